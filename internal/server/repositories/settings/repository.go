package settings

import (
	"context"

	"github.com/dzintars-a/coldkeeper/internal/server/models"
)

type Repository interface {
	// Get returns the tenant's settings, or defaults (auto-approval
	// disabled) when none are stored.
	Get(ctx context.Context, tenantID string) (*models.TenantSettings, error)
	Upsert(ctx context.Context, s *models.TenantSettings) error
}
