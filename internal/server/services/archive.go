package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/logging"
	"github.com/dzintars-a/coldkeeper/internal/server/models"
	"github.com/dzintars-a/coldkeeper/internal/server/workflows"
	"github.com/dzintars-a/coldkeeper/internal/workflow"
)

// ArchiveService triggers archive runs and reports their status.
type ArchiveService struct {
	engine *workflow.Engine
	log    logging.Logger
}

func NewArchiveService(engine *workflow.Engine, log logging.Logger) *ArchiveService {
	return &ArchiveService{engine: engine, log: log}
}

// StartArchive schedules an archive run for the tenant, optionally scoped
// to one rule. The instance id is deterministic; a run already in flight
// for the same scope surfaces common.ErrDuplicateWorkflow.
func (s *ArchiveService) StartArchive(ctx context.Context, tenantID, orgID, ruleID string) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("%w: tenant id is required", common.ErrValidation)
	}

	instanceID := models.ArchiveInstanceID(tenantID, ruleID)
	input, err := json.Marshal(workflows.ArchiveInput{TenantID: tenantID, OrgID: orgID, RuleID: ruleID})
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrInternal, err)
	}

	if err := s.engine.Start(ctx, models.WorkflowArchive, instanceID, input); err != nil {
		return "", err
	}
	s.log.Info(ctx, "archive run started", "instance", instanceID, "tenant", tenantID, "rule", ruleID)
	return instanceID, nil
}

// RunStatus combines the engine-level instance state with the business
// summary of a finished run.
type RunStatus struct {
	InstanceID string                   `json:"instanceId"`
	Status     workflow.Status          `json:"status"`
	Error      string                   `json:"error,omitempty"`
	Result     *workflows.ArchiveResult `json:"result,omitempty"`
}

// GetArchiveStatus reports the state of one archive run.
func (s *ArchiveService) GetArchiveStatus(ctx context.Context, instanceID string) (*RunStatus, error) {
	inst, err := s.engine.Status(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	st := &RunStatus{InstanceID: inst.ID, Status: inst.Status, Error: inst.Error}
	if inst.Status == workflow.StatusCompleted && len(inst.Result) > 0 {
		var res workflows.ArchiveResult
		if err := json.Unmarshal(inst.Result, &res); err != nil {
			return nil, fmt.Errorf("%w: decode run result: %v", common.ErrInternal, err)
		}
		st.Result = &res
	}
	return st, nil
}
