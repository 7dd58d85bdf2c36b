package files

import (
	"context"

	"github.com/dzintars-a/coldkeeper/internal/server/models"
)

type Repository interface {
	// ListActive returns up to limit active files for the tenant, ordered
	// by (path, id) so evaluation sees a stable sequence across runs.
	ListActive(ctx context.Context, tenantID string, limit int) ([]*models.FileRecord, error)
	GetByID(ctx context.Context, tenantID, id string) (*models.FileRecord, error)
	ListByIDs(ctx context.Context, tenantID string, ids []string) ([]*models.FileRecord, error)
	// UpdateArchiveState transitions the file's archive status and, when
	// tier is non-empty, its storage tier.
	UpdateArchiveState(ctx context.Context, id string, status models.ArchiveStatus, tier models.StorageTier) error
	// Upsert inserts the file or refreshes its document-store metadata.
	// Archive status and storage tier of an existing row are preserved.
	Upsert(ctx context.Context, f *models.FileRecord) error
}
