package operations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/dbx"
	"github.com/dzintars-a/coldkeeper/internal/server/models"
)

// PostgresRepository implements archive-operation storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const opColumns = `id, tenant_id, file_id, rule_id, site_id, action, source_path, dest_path,
	target_tier, status, approved_by, vetoed_by, veto_reason, vetoed_at, error, created_at, completed_at`

// terminalStatuses mirrors models.OperationStatus.IsTerminal for SQL use.
// pgx maps the []string parameter to a text[] for ANY().
var terminalStatuses = []string{
	string(models.OpCompleted),
	string(models.OpFailed),
	string(models.OpVetoAccepted),
	string(models.OpVetoOverridden),
}

func scanOp(row interface{ Scan(...any) error }) (*models.ArchiveOperation, error) {
	var op models.ArchiveOperation
	var vetoedAt, completedAt sql.NullTime
	err := row.Scan(&op.ID, &op.TenantID, &op.FileID, &op.RuleID, &op.SiteID, &op.Action,
		&op.SourcePath, &op.DestPath, &op.TargetTier, &op.Status, &op.ApprovedBy,
		&op.VetoedBy, &op.VetoReason, &vetoedAt, &op.Error, &op.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if vetoedAt.Valid {
		op.VetoedAt = vetoedAt.Time
	}
	if completedAt.Valid {
		op.CompletedAt = completedAt.Time
	}
	return &op, nil
}

func (r *PostgresRepository) Create(ctx context.Context, op *models.ArchiveOperation) error {
	query := `
		INSERT INTO archive_operations
			(id, tenant_id, file_id, rule_id, site_id, action, source_path, dest_path, target_tier, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
	`
	_, err := r.db.ExecContext(ctx, query,
		op.ID, op.TenantID, op.FileID, op.RuleID, op.SiteID, op.Action,
		op.SourcePath, op.DestPath, op.TargetTier, op.Status)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.ArchiveOperation, error) {
	query := `SELECT ` + opColumns + ` FROM archive_operations WHERE id=$1`
	op, err := scanOp(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select operation: %w", err)
	}
	return op, nil
}

func (r *PostgresRepository) DeleteTerminal(ctx context.Context, id string) error {
	query := `DELETE FROM archive_operations WHERE id=$1 AND status = ANY($2)`
	res, err := r.db.ExecContext(ctx, query, id, terminalStatuses)
	if err != nil {
		return fmt.Errorf("failed to delete operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		// Either missing or still live; the caller distinguishes via Get.
		return common.ErrVersionConflict
	}
	return nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status models.OperationStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE archive_operations SET status=$1 WHERE id=$2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return oneRow(res)
}

func (r *PostgresRepository) UpdateStatusIf(ctx context.Context, id string, expected, next models.OperationStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE archive_operations SET status=$1 WHERE id=$2 AND status=$3`, next, id, expected)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrVersionConflict
	}
	return nil
}

func (r *PostgresRepository) MarkCompleted(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE archive_operations SET status=$1, completed_at=now() WHERE id=$2`, models.OpCompleted, id)
	if err != nil {
		return fmt.Errorf("failed to mark completed: %w", err)
	}
	return oneRow(res)
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id string, errText string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE archive_operations SET status=$1, error=$2, completed_at=now() WHERE id=$3`,
		models.OpFailed, models.TruncateError(errText), id)
	if err != nil {
		return fmt.Errorf("failed to mark failed: %w", err)
	}
	return oneRow(res)
}

func (r *PostgresRepository) RecordApproval(ctx context.Context, id, actor string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE archive_operations SET status=$1, approved_by=$2 WHERE id=$3`,
		models.OpApproved, actor, id)
	if err != nil {
		return fmt.Errorf("failed to record approval: %w", err)
	}
	return oneRow(res)
}

func (r *PostgresRepository) RecordVeto(ctx context.Context, id, actor, reason string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE archive_operations SET status=$1, vetoed_by=$2, veto_reason=$3, vetoed_at=$4 WHERE id=$5`,
		models.OpVetoed, actor, reason, at, id)
	if err != nil {
		return fmt.Errorf("failed to record veto: %w", err)
	}
	return oneRow(res)
}

func (r *PostgresRepository) RecordVetoForSite(ctx context.Context, tenantID, siteID, actor, reason string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE archive_operations SET status=$1, vetoed_by=$2, veto_reason=$3, vetoed_at=$4
		 WHERE tenant_id=$5 AND site_id=$6 AND status=$7`,
		models.OpVetoed, actor, reason, at, tenantID, siteID, models.OpAwaitingApproval)
	if err != nil {
		return 0, fmt.Errorf("failed to veto site operations: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) SetStatusForSite(ctx context.Context, tenantID, siteID string, from, to models.OperationStatus) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE archive_operations SET status=$1 WHERE tenant_id=$2 AND site_id=$3 AND status=$4`,
		to, tenantID, siteID, from)
	if err != nil {
		return 0, fmt.Errorf("failed to update site operations: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) ListVetoedByPathPrefix(ctx context.Context, tenantID, prefix string) ([]*models.ArchiveOperation, error) {
	query := `SELECT ` + opColumns + ` FROM archive_operations
		WHERE tenant_id=$1 AND status=$2 AND source_path LIKE $3 || '%'
		ORDER BY source_path, id`
	rows, err := r.db.QueryContext(ctx, query, tenantID, models.OpVetoed, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to select vetoed operations: %w", err)
	}
	defer rows.Close()

	var result []*models.ArchiveOperation
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
