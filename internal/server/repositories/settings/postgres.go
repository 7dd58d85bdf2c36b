package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dzintars-a/coldkeeper/internal/dbx"
	"github.com/dzintars-a/coldkeeper/internal/server/models"
)

// PostgresRepository implements tenant settings storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, tenantID string) (*models.TenantSettings, error) {
	query := `SELECT tenant_id, auto_approval_days, updated_at, updated_by FROM tenant_settings WHERE tenant_id=$1`

	var s models.TenantSettings
	var days sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(&s.TenantID, &days, &s.UpdatedAt, &s.UpdatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		// No stored settings means auto-approval disabled.
		return &models.TenantSettings{TenantID: tenantID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select settings: %w", err)
	}
	if days.Valid {
		v := int(days.Int64)
		s.AutoApprovalDays = &v
	}
	return &s, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, s *models.TenantSettings) error {
	query := `
		INSERT INTO tenant_settings (tenant_id, auto_approval_days, updated_at, updated_by)
		VALUES ($1, $2, now(), $3)
		ON CONFLICT (tenant_id)
		DO UPDATE SET
			auto_approval_days = EXCLUDED.auto_approval_days,
			updated_at = now(),
			updated_by = EXCLUDED.updated_by
	`
	var days sql.NullInt64
	if s.AutoApprovalDays != nil {
		days = sql.NullInt64{Int64: int64(*s.AutoApprovalDays), Valid: true}
	}
	if _, err := r.db.ExecContext(ctx, query, s.TenantID, days, s.UpdatedBy); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
