package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/dbx"
	"github.com/dzintars-a/coldkeeper/internal/server/models"
)

// PostgresRepository implements file storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const fileColumns = `id, tenant_id, site_id, site_name, path, name, extension, size_bytes,
	owner_id, owner_email, owner_name, last_modified, last_accessed, archive_status, storage_tier`

func scanFile(row interface{ Scan(...any) error }) (*models.FileRecord, error) {
	var f models.FileRecord
	var lastAccessed sql.NullTime
	err := row.Scan(&f.ID, &f.TenantID, &f.SiteID, &f.SiteName, &f.Path, &f.Name, &f.Extension,
		&f.SizeBytes, &f.OwnerID, &f.OwnerEmail, &f.OwnerName, &f.LastModified, &lastAccessed,
		&f.ArchiveStatus, &f.StorageTier)
	if err != nil {
		return nil, err
	}
	if lastAccessed.Valid {
		f.LastAccessed = lastAccessed.Time
	}
	return &f, nil
}

func (r *PostgresRepository) ListActive(ctx context.Context, tenantID string, limit int) ([]*models.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files
		WHERE tenant_id=$1 AND archive_status=$2
		ORDER BY path, id
		LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, tenantID, models.FileActive, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, tenantID, id string) (*models.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE tenant_id=$1 AND id=$2`
	f, err := scanFile(r.db.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select file: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) ListByIDs(ctx context.Context, tenantID string, ids []string) ([]*models.FileRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, tenantID)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	query := `SELECT ` + fileColumns + ` FROM files
		WHERE tenant_id=$1 AND id IN (` + strings.Join(placeholders, ",") + `)
		ORDER BY path, id`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// The conflict arm deliberately leaves archive_status and storage_tier
// alone so that a metadata refresh never rewinds the archive lifecycle.
const upsertFileQuery = `
		INSERT INTO files
			(id, tenant_id, site_id, site_name, path, name, extension, size_bytes,
			 owner_id, owner_email, owner_name, last_modified, last_accessed,
			 archive_status, storage_tier)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			site_name=EXCLUDED.site_name, path=EXCLUDED.path, name=EXCLUDED.name,
			extension=EXCLUDED.extension, size_bytes=EXCLUDED.size_bytes,
			owner_id=EXCLUDED.owner_id, owner_email=EXCLUDED.owner_email,
			owner_name=EXCLUDED.owner_name, last_modified=EXCLUDED.last_modified,
			last_accessed=EXCLUDED.last_accessed
	`

func (r *PostgresRepository) Upsert(ctx context.Context, f *models.FileRecord) error {
	status := f.ArchiveStatus
	if status == "" {
		status = models.FileActive
	}
	tier := f.StorageTier
	if tier == "" {
		tier = models.TierWarm
	}
	lastAccessed := sql.NullTime{Time: f.LastAccessed, Valid: !f.LastAccessed.IsZero()}
	_, err := r.db.ExecContext(ctx, upsertFileQuery,
		f.ID, f.TenantID, f.SiteID, f.SiteName, f.Path, f.Name, f.Extension, f.SizeBytes,
		f.OwnerID, f.OwnerEmail, f.OwnerName, f.LastModified, lastAccessed, status, tier)
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateArchiveState(ctx context.Context, id string, status models.ArchiveStatus, tier models.StorageTier) error {
	var (
		res sql.Result
		err error
	)
	if tier == "" {
		res, err = r.db.ExecContext(ctx, `UPDATE files SET archive_status=$1 WHERE id=$2`, status, id)
	} else {
		res, err = r.db.ExecContext(ctx, `UPDATE files SET archive_status=$1, storage_tier=$2 WHERE id=$3`, status, tier, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update file state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
