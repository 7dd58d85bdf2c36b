package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/dbx"
	"github.com/dzintars-a/coldkeeper/internal/server/models"
)

// PostgresRepository implements rule storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const ruleColumns = `id, tenant_id, name, type, criteria, target_tier, active, created_at, updated_at`

func scanRule(row interface{ Scan(...any) error }) (*models.ArchiveRule, error) {
	var r models.ArchiveRule
	var tier sql.NullString
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Type, &r.Criteria, &tier, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if tier.Valid {
		r.TargetTier = models.StorageTier(tier.String)
	}
	return &r, nil
}

func (r *PostgresRepository) ListActive(ctx context.Context, tenantID string) ([]models.ArchiveRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM archive_rules
		WHERE tenant_id=$1 AND active AND deleted_at IS NULL
		ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to select rules: %w", err)
	}
	defer rows.Close()

	var result []models.ArchiveRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Get(ctx context.Context, tenantID, id string) (*models.ArchiveRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM archive_rules
		WHERE tenant_id=$1 AND id=$2 AND deleted_at IS NULL`
	rule, err := scanRule(r.db.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select rule: %w", err)
	}
	return rule, nil
}

func (r *PostgresRepository) Create(ctx context.Context, rule *models.ArchiveRule) error {
	query := `
		INSERT INTO archive_rules (id, tenant_id, name, type, criteria, target_tier, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, now(), now())
	`
	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.TenantID, rule.Name, rule.Type, rule.Criteria, string(rule.TargetTier), rule.Active)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, rule *models.ArchiveRule) error {
	query := `
		UPDATE archive_rules
		SET name=$1, type=$2, criteria=$3, target_tier=NULLIF($4, ''), active=$5, updated_at=now()
		WHERE tenant_id=$6 AND id=$7 AND deleted_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query,
		rule.Name, rule.Type, rule.Criteria, string(rule.TargetTier), rule.Active, rule.TenantID, rule.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
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

func (r *PostgresRepository) SoftDelete(ctx context.Context, tenantID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE archive_rules SET active=false, deleted_at=now() WHERE tenant_id=$1 AND id=$2 AND deleted_at IS NULL`,
		tenantID, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
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
