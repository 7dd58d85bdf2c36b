package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dzintars-a/coldkeeper/internal/dbx"
	"github.com/dzintars-a/coldkeeper/internal/logging"
)

// PostgresSink appends audit events to the audit_events table.
type PostgresSink struct {
	db  dbx.DBTX
	log logging.Logger
}

func NewPostgresSink(db dbx.DBTX, log logging.Logger) *PostgresSink {
	return &PostgresSink{db: db, log: log}
}

func (s *PostgresSink) Record(ctx context.Context, ev Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, tenant_id, actor, action, entity, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		uuid.NewString(), ev.TenantID, ev.Actor, ev.Action, ev.Entity, ev.EntityID, nullable(ev.Details))
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// Log wraps a Sink call so callers can fire-and-forget: failures are
// logged, never propagated.
func Log(ctx context.Context, sink Sink, log logging.Logger, ev Event) {
	if sink == nil {
		return
	}
	if err := sink.Record(ctx, ev); err != nil {
		log.Warn(ctx, "audit record failed",
			"action", ev.Action, "tenant", ev.TenantID, "error", err.Error())
	}
}
