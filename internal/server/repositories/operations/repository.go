package operations

import (
	"context"
	"time"

	"github.com/dzintars-a/coldkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, op *models.ArchiveOperation) error
	Get(ctx context.Context, id string) (*models.ArchiveOperation, error)
	// DeleteTerminal removes a terminal operation so its deterministic id
	// can be reused for a fresh attempt. Deleting a non-terminal
	// operation is refused with ErrVersionConflict.
	DeleteTerminal(ctx context.Context, id string) error

	UpdateStatus(ctx context.Context, id string, status models.OperationStatus) error
	// UpdateStatusIf is a compare-and-swap: the update applies only when
	// the operation is still in the expected status, otherwise
	// ErrVersionConflict.
	UpdateStatusIf(ctx context.Context, id string, expected, next models.OperationStatus) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errText string) error
	RecordApproval(ctx context.Context, id, actor string) error
	RecordVeto(ctx context.Context, id, actor, reason string, at time.Time) error

	// RecordVetoForSite vetoes every AwaitingApproval operation of the
	// site, stamping the vetoer identity, reason and timestamp.
	RecordVetoForSite(ctx context.Context, tenantID, siteID, actor, reason string, at time.Time) (int64, error)
	// SetStatusForSite moves every operation of the site currently in
	// `from` to `to`, returning the number of rows moved.
	SetStatusForSite(ctx context.Context, tenantID, siteID string, from, to models.OperationStatus) (int64, error)
	// ListVetoedByPathPrefix returns Vetoed operations whose source path
	// starts with prefix, for bulk veto resolution.
	ListVetoedByPathPrefix(ctx context.Context, tenantID, prefix string) ([]*models.ArchiveOperation, error)
}
