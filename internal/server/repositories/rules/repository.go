package rules

import (
	"context"

	"github.com/dzintars-a/coldkeeper/internal/server/models"
)

type Repository interface {
	// ListActive returns the tenant's active, non-deleted rules ordered by
	// (created_at, id). This order is the caller-supplied tiebreak among
	// archive rules: the first structural match wins.
	ListActive(ctx context.Context, tenantID string) ([]models.ArchiveRule, error)
	Get(ctx context.Context, tenantID, id string) (*models.ArchiveRule, error)
	Create(ctx context.Context, rule *models.ArchiveRule) error
	Update(ctx context.Context, rule *models.ArchiveRule) error
	SoftDelete(ctx context.Context, tenantID, id string) error
}
