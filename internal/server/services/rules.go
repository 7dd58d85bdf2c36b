package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/logging"
	"github.com/dzintars-a/coldkeeper/internal/rules"
	"github.com/dzintars-a/coldkeeper/internal/server/audit"
	"github.com/dzintars-a/coldkeeper/internal/server/models"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/repomanager"
)

// RuleService owns archive-rule CRUD. Every mutation is validated by
// compiling the criteria, audited, and followed by a rule-cache
// invalidation.
type RuleService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	auditSink   audit.Sink
	invalidate  RuleCacheInvalidator
	log         logging.Logger
}

func NewRuleService(db *sql.DB, rm repomanager.RepositoryManager, auditSink audit.Sink,
	invalidate RuleCacheInvalidator, log logging.Logger) *RuleService {
	return &RuleService{db: db, repomanager: rm, auditSink: auditSink, invalidate: invalidate, log: log}
}

func (s *RuleService) List(ctx context.Context, tenantID string) ([]models.ArchiveRule, error) {
	return s.repomanager.Rules(s.db).ListActive(ctx, tenantID)
}

func (s *RuleService) Get(ctx context.Context, tenantID, id string) (*models.ArchiveRule, error) {
	return s.repomanager.Rules(s.db).Get(ctx, tenantID, id)
}

// validate compiles the criteria and checks the tier constraints:
// exclusion rules never carry a tier, archive rules always do.
func validateRule(rule *models.ArchiveRule) error {
	if rule.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", common.ErrValidation)
	}
	if rule.Name == "" {
		return fmt.Errorf("%w: rule name is required", common.ErrValidation)
	}
	if _, err := rules.Compile(*rule); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	if rule.Type == models.RuleExclusion {
		if rule.TargetTier != "" {
			return fmt.Errorf("%w: exclusion rules carry no target tier", common.ErrValidation)
		}
		return nil
	}
	switch rule.TargetTier {
	case models.TierCool, models.TierCold, models.TierArchive:
		return nil
	default:
		return fmt.Errorf("%w: invalid target tier %q", common.ErrValidation, rule.TargetTier)
	}
}

func (s *RuleService) Create(ctx context.Context, rule *models.ArchiveRule, actor string) (*models.ArchiveRule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.Active = true
	if err := validateRule(rule); err != nil {
		return nil, err
	}
	if err := s.repomanager.Rules(s.db).Create(ctx, rule); err != nil {
		return nil, err
	}
	s.afterMutation(ctx, rule.TenantID, rule.ID, "rule.create", actor, rule.Criteria)
	return rule, nil
}

func (s *RuleService) Update(ctx context.Context, rule *models.ArchiveRule, actor string) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	if err := s.repomanager.Rules(s.db).Update(ctx, rule); err != nil {
		return err
	}
	s.afterMutation(ctx, rule.TenantID, rule.ID, "rule.update", actor, rule.Criteria)
	return nil
}

func (s *RuleService) Delete(ctx context.Context, tenantID, id, actor string) error {
	if err := s.repomanager.Rules(s.db).SoftDelete(ctx, tenantID, id); err != nil {
		return err
	}
	s.afterMutation(ctx, tenantID, id, "rule.delete", actor, nil)
	return nil
}

func (s *RuleService) afterMutation(ctx context.Context, tenantID, ruleID, action, actor string, details []byte) {
	if s.invalidate != nil {
		s.invalidate.InvalidateRules(tenantID)
	}
	audit.Log(ctx, s.auditSink, s.log, audit.Event{
		TenantID: tenantID,
		Actor:    actor,
		Action:   action,
		Entity:   "rule",
		EntityID: ruleID,
		Details:  details,
	})
}
