package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/logging"
	"github.com/dzintars-a/coldkeeper/internal/server/audit"
	"github.com/dzintars-a/coldkeeper/internal/server/models"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/repomanager"
)

// SettingsService owns per-tenant archival policy.
type SettingsService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	auditSink   audit.Sink
	log         logging.Logger
}

func NewSettingsService(db *sql.DB, rm repomanager.RepositoryManager, auditSink audit.Sink, log logging.Logger) *SettingsService {
	return &SettingsService{db: db, repomanager: rm, auditSink: auditSink, log: log}
}

func (s *SettingsService) Get(ctx context.Context, tenantID string) (*models.TenantSettings, error) {
	return s.repomanager.Settings(s.db).Get(ctx, tenantID)
}

// SetAutoApprovalDays updates the tenant's approval policy. nil disables
// auto-approval, 0 approves immediately without notifying, 1..365 notifies
// and auto-approves on timeout.
func (s *SettingsService) SetAutoApprovalDays(ctx context.Context, tenantID string, days *int, actor string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant id is required", common.ErrValidation)
	}
	if days != nil && (*days < 0 || *days > 365) {
		return fmt.Errorf("%w: auto-approval days must be 0..365", common.ErrValidation)
	}

	err := s.repomanager.Settings(s.db).Upsert(ctx, &models.TenantSettings{
		TenantID:         tenantID,
		AutoApprovalDays: days,
		UpdatedBy:        actor,
	})
	if err != nil {
		return err
	}

	details, _ := json.Marshal(map[string]*int{"autoApprovalDays": days})
	audit.Log(ctx, s.auditSink, s.log, audit.Event{
		TenantID: tenantID,
		Actor:    actor,
		Action:   "settings.update",
		Entity:   "tenant_settings",
		EntityID: tenantID,
		Details:  details,
	})
	return nil
}
