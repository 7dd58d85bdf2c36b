// Package audit provides the append-only audit sink. Audit writes are
// best-effort: a sink failure is logged and must never fail the operation
// that produced the event.
package audit

import (
	"context"
	"time"
)

// Event is one audit record.
type Event struct {
	TenantID string
	Actor    string
	// Action names what happened, e.g. "rule.create", "settings.update",
	// "archive.completed", "retrieve.completed", "veto.resolve".
	Action   string
	Entity   string
	EntityID string
	// Details is an optional JSON document with action-specific fields.
	Details   []byte
	Timestamp time.Time
}

// Sink accepts audit events.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}
