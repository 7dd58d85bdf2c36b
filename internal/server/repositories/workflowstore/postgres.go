// Package workflowstore persists workflow engine state (instances,
// decision histories, signal inboxes) in PostgreSQL.
package workflowstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/dbx"
	"github.com/dzintars-a/coldkeeper/internal/workflow"
)

// PostgresStore implements workflow.Store. It owns a *sql.DB because
// instance creation needs a transaction spanning several tables.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var terminal = []string{string(workflow.StatusCompleted), string(workflow.StatusFailed)}

// CreateInstance inserts a new instance. A live instance with the same id
// yields common.ErrDuplicateWorkflow; a terminal one is superseded along
// with its history and leftover signals.
func (s *PostgresStore) CreateInstance(ctx context.Context, inst *workflow.Instance) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM workflow_instances WHERE id=$1 FOR UPDATE`, inst.ID).Scan(&status)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Fresh id.
		case err != nil:
			return fmt.Errorf("failed to check instance: %w", err)
		default:
			if !workflow.Status(status).IsTerminal() {
				return common.ErrDuplicateWorkflow
			}
			for _, q := range []string{
				`DELETE FROM workflow_events WHERE instance_id=$1`,
				`DELETE FROM workflow_signals WHERE instance_id=$1`,
				`DELETE FROM workflow_instances WHERE id=$1`,
			} {
				if _, err := tx.ExecContext(ctx, q, inst.ID); err != nil {
					return fmt.Errorf("failed to supersede instance: %w", err)
				}
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_instances (id, kind, input, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())`,
			inst.ID, inst.Kind, inst.Input, inst.Status)
		if err != nil {
			return fmt.Errorf("failed to insert instance: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) UpdateInstance(ctx context.Context, id string, status workflow.Status, result []byte, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_instances SET status=$1, result=$2, error=$3, updated_at=now() WHERE id=$4`,
		status, result, errText, id)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
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

func (s *PostgresStore) GetInstance(ctx context.Context, id string) (*workflow.Instance, error) {
	var inst workflow.Instance
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, input, status, result, error, created_at, updated_at
		FROM workflow_instances WHERE id=$1`, id).
		Scan(&inst.ID, &inst.Kind, &inst.Input, &inst.Status, &inst.Result, &inst.Error,
			&inst.CreatedAt, &inst.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select instance: %w", err)
	}
	return &inst, nil
}

func (s *PostgresStore) ListRunning(ctx context.Context) ([]*workflow.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, input, status, result, error, created_at, updated_at
		FROM workflow_instances WHERE NOT (status = ANY($1))
		ORDER BY created_at`, terminal)
	if err != nil {
		return nil, fmt.Errorf("failed to select instances: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Instance
	for rows.Next() {
		var inst workflow.Instance
		if err := rows.Scan(&inst.ID, &inst.Kind, &inst.Input, &inst.Status, &inst.Result,
			&inst.Error, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AppendEvent is idempotent on (instance_id, command_id): a replayed
// append of an already-recorded decision is a no-op.
func (s *PostgresStore) AppendEvent(ctx context.Context, ev *workflow.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_events (instance_id, command_id, kind, name, payload, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (instance_id, command_id) DO NOTHING`,
		ev.InstanceID, ev.CommandID, ev.Kind, ev.Name, ev.Payload, ev.Error)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadEvents(ctx context.Context, instanceID string) ([]*workflow.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, command_id, kind, name, payload, error, recorded_at
		FROM workflow_events WHERE instance_id=$1 ORDER BY command_id`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to select events: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Event
	for rows.Next() {
		var ev workflow.Event
		if err := rows.Scan(&ev.InstanceID, &ev.CommandID, &ev.Kind, &ev.Name, &ev.Payload,
			&ev.Error, &ev.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) AddSignal(ctx context.Context, sig *workflow.Signal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_signals (instance_id, name, payload, received_at, consumed)
		VALUES ($1, $2, $3, now(), false)`,
		sig.InstanceID, sig.Name, sig.Payload)
	if err != nil {
		return fmt.Errorf("failed to add signal: %w", err)
	}
	return nil
}

func (s *PostgresStore) NextSignal(ctx context.Context, instanceID, name string) (*workflow.Signal, error) {
	var sig workflow.Signal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, instance_id, name, payload, received_at, consumed
		FROM workflow_signals
		WHERE instance_id=$1 AND name=$2 AND NOT consumed
		ORDER BY id LIMIT 1`, instanceID, name).
		Scan(&sig.ID, &sig.InstanceID, &sig.Name, &sig.Payload, &sig.ReceivedAt, &sig.Consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select signal: %w", err)
	}
	return &sig, nil
}

func (s *PostgresStore) ConsumeSignal(ctx context.Context, signalID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_signals SET consumed=true WHERE id=$1`, signalID)
	if err != nil {
		return fmt.Errorf("failed to consume signal: %w", err)
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
