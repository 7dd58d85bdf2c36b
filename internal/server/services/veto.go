package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/dbx"
	"github.com/dzintars-a/coldkeeper/internal/logging"
	"github.com/dzintars-a/coldkeeper/internal/rules"
	"github.com/dzintars-a/coldkeeper/internal/server/audit"
	"github.com/dzintars-a/coldkeeper/internal/server/models"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/repomanager"
)

// VetoResolution names the three ways a human resolves a vetoed operation.
type VetoResolution string

const (
	// VetoAccept honors the veto: the file stays where it is.
	VetoAccept VetoResolution = "accept"
	// VetoOverride discards the veto and queues a fresh approved
	// operation that bypasses notification.
	VetoOverride VetoResolution = "override"
	// VetoExclude honors the veto for the whole path prefix: an
	// exclusion rule is synthesized and every vetoed operation under the
	// prefix is accepted in one pass.
	VetoExclude VetoResolution = "exclude"
)

// VetoService resolves vetoed operations.
type VetoService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	auditSink   audit.Sink
	invalidate  RuleCacheInvalidator
	log         logging.Logger
}

// RuleCacheInvalidator drops cached rule sets after a rule mutation.
// Implemented by the evaluation service.
type RuleCacheInvalidator interface {
	InvalidateRules(tenantID string)
}

func NewVetoService(db *sql.DB, rm repomanager.RepositoryManager, auditSink audit.Sink,
	invalidate RuleCacheInvalidator, log logging.Logger) *VetoService {
	return &VetoService{db: db, repomanager: rm, auditSink: auditSink, invalidate: invalidate, log: log}
}

// VetoOutcome reports what a resolution touched.
type VetoOutcome struct {
	OperationID string         `json:"operationId"`
	Resolution  VetoResolution `json:"resolution"`
	// ResolvedOperations counts the operations moved out of Vetoed,
	// including the one named in the request.
	ResolvedOperations int `json:"resolvedOperations"`
	// ExclusionRuleID is set when an exclusion rule was synthesized.
	ExclusionRuleID string `json:"exclusionRuleId,omitempty"`
}

// ResolveVeto applies one resolution. Status transitions are
// compare-and-swap on the Vetoed status: a concurrent resolution of the
// same operation loses with common.ErrVersionConflict.
func (s *VetoService) ResolveVeto(ctx context.Context, tenantID, operationID string, resolution VetoResolution, actor string) (*VetoOutcome, error) {
	op, err := s.repomanager.Operations(s.db).Get(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if op.TenantID != tenantID {
		return nil, common.ErrNotFound
	}
	if op.Status != models.OpVetoed {
		return nil, fmt.Errorf("%w: operation %s is %s, not vetoed", common.ErrValidation, operationID, op.Status)
	}

	var out *VetoOutcome
	switch resolution {
	case VetoAccept:
		out, err = s.accept(ctx, op)
	case VetoOverride:
		out, err = s.override(ctx, op, actor)
	case VetoExclude:
		out, err = s.exclude(ctx, op, actor)
	default:
		return nil, fmt.Errorf("%w: unknown resolution %q", common.ErrValidation, resolution)
	}
	if err != nil {
		return nil, err
	}

	details, _ := json.Marshal(out)
	audit.Log(ctx, s.auditSink, s.log, audit.Event{
		TenantID: tenantID,
		Actor:    actor,
		Action:   "veto.resolve",
		Entity:   "operation",
		EntityID: operationID,
		Details:  details,
	})
	return out, nil
}

func (s *VetoService) accept(ctx context.Context, op *models.ArchiveOperation) (*VetoOutcome, error) {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Operations(tx).UpdateStatusIf(ctx, op.ID, models.OpVetoed, models.OpVetoAccepted); err != nil {
			return err
		}
		return s.repomanager.Files(tx).UpdateArchiveState(ctx, op.FileID, models.FileActive, "")
	})
	if err != nil {
		return nil, err
	}
	return &VetoOutcome{OperationID: op.ID, Resolution: VetoAccept, ResolvedOperations: 1}, nil
}

func (s *VetoService) override(ctx context.Context, op *models.ArchiveOperation, actor string) (*VetoOutcome, error) {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ops := s.repomanager.Operations(tx)
		if err := ops.UpdateStatusIf(ctx, op.ID, models.OpVetoed, models.OpVetoOverridden); err != nil {
			return err
		}
		// The deterministic id is reused: the overridden record is
		// terminal now, so it is superseded by a fresh approved one.
		if err := ops.DeleteTerminal(ctx, op.ID); err != nil {
			return err
		}
		fresh := *op
		fresh.Status = models.OpApproved
		fresh.ApprovedBy = actor
		fresh.VetoedBy = ""
		fresh.VetoReason = ""
		fresh.VetoedAt = time.Time{}
		if err := ops.Create(ctx, &fresh); err != nil {
			return err
		}
		return ops.RecordApproval(ctx, op.ID, actor)
	})
	if err != nil {
		return nil, err
	}
	return &VetoOutcome{OperationID: op.ID, Resolution: VetoOverride, ResolvedOperations: 1}, nil
}

func (s *VetoService) exclude(ctx context.Context, op *models.ArchiveOperation, actor string) (*VetoOutcome, error) {
	prefix := pathPrefix(op.SourcePath)
	ruleID := uuid.NewString()

	var resolved int
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ops := s.repomanager.Operations(tx)

		criteria, err := json.Marshal(rules.ExclusionCriteria{LibraryPath: prefix})
		if err != nil {
			return err
		}
		rule := &models.ArchiveRule{
			ID:       ruleID,
			TenantID: op.TenantID,
			Name:     fmt.Sprintf("Exclude %s", strings.TrimSuffix(prefix, "/")),
			Type:     models.RuleExclusion,
			Criteria: criteria,
			Active:   true,
		}
		if err := s.repomanager.Rules(tx).Create(ctx, rule); err != nil {
			return err
		}

		vetoed, err := ops.ListVetoedByPathPrefix(ctx, op.TenantID, prefix)
		if err != nil {
			return err
		}
		files := s.repomanager.Files(tx)
		for _, v := range vetoed {
			if err := ops.UpdateStatusIf(ctx, v.ID, models.OpVetoed, models.OpVetoAccepted); err != nil {
				return err
			}
			if err := files.UpdateArchiveState(ctx, v.FileID, models.FileActive, ""); err != nil {
				return err
			}
			resolved++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.invalidate != nil {
		s.invalidate.InvalidateRules(op.TenantID)
	}
	return &VetoOutcome{
		OperationID:        op.ID,
		Resolution:         VetoExclude,
		ResolvedOperations: resolved,
		ExclusionRuleID:    ruleID,
	}, nil
}

// pathPrefix derives the exclusion scope from a source path: the library
// plus its first folder, e.g. "Shared Documents/Finance/q1.xlsx" becomes
// "Shared Documents/Finance/". A path with a single folder level falls
// back to the library segment alone.
func pathPrefix(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) > 2 {
		return parts[0] + "/" + parts[1] + "/"
	}
	if len(parts) == 2 {
		return parts[0] + "/"
	}
	return path
}
