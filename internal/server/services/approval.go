package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/logging"
	"github.com/dzintars-a/coldkeeper/internal/server/models"
	"github.com/dzintars-a/coldkeeper/internal/workflow"
)

// ApprovalService routes inbound approval actions from the notification
// channel to the archive run waiting on them.
type ApprovalService struct {
	engine *workflow.Engine
	log    logging.Logger
}

func NewApprovalService(engine *workflow.Engine, log logging.Logger) *ApprovalService {
	return &ApprovalService{engine: engine, log: log}
}

// HandleApprovalAction decodes one approval payload and signals the
// orchestration instance it names. The signal name is scoped per site so
// one run can await many sites independently.
func (s *ApprovalService) HandleApprovalAction(ctx context.Context, payload []byte) error {
	var in models.ApprovalActionInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	switch in.Action {
	case models.ApprovalApprove, models.ApprovalReject, models.ApprovalReview:
	default:
		return fmt.Errorf("%w: unknown action %q", common.ErrValidation, in.Action)
	}
	if in.TenantID == "" || in.SiteID == "" || in.OrchestrationID == "" {
		return fmt.Errorf("%w: tenant, site and orchestration ids are required", common.ErrValidation)
	}

	if err := s.engine.Signal(ctx, in.OrchestrationID, "approval:"+in.SiteID, payload); err != nil {
		return err
	}
	s.log.Info(ctx, "approval action delivered",
		"instance", in.OrchestrationID, "site", in.SiteID, "action", string(in.Action))
	return nil
}
