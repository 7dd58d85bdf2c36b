package workflow

import (
	"context"
	"time"
)

// Status of a workflow instance.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the instance can make no further progress.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Instance is one durable workflow execution, addressed by a
// caller-derived deterministic id.
type Instance struct {
	ID     string
	Kind   string
	Input  []byte
	Status Status
	// Result is the JSON result value of a completed workflow function.
	Result []byte
	// Error is the truncated failure text of a failed instance.
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Signal is an inbound external signal queued for an instance. Signals are
// consumed once, oldest first, matched by name.
type Signal struct {
	ID         int64
	InstanceID string
	Name       string
	Payload    []byte
	ReceivedAt time.Time
	Consumed   bool
}

// Store persists instances, histories and signal inboxes.
//
// CreateInstance must return common.ErrDuplicateWorkflow when a
// non-terminal instance with the same id exists, and must supersede
// (replace) a terminal instance with the same id.
//
// AppendEvent must be idempotent on (instance id, command id): appending
// an event that already exists is a no-op, not an error.
type Store interface {
	CreateInstance(ctx context.Context, inst *Instance) error
	UpdateInstance(ctx context.Context, id string, status Status, result []byte, errText string) error
	GetInstance(ctx context.Context, id string) (*Instance, error)
	ListRunning(ctx context.Context) ([]*Instance, error)

	AppendEvent(ctx context.Context, ev *Event) error
	LoadEvents(ctx context.Context, instanceID string) ([]*Event, error)

	AddSignal(ctx context.Context, sig *Signal) error
	// NextSignal returns the oldest unconsumed signal with the given name,
	// or nil when none is queued.
	NextSignal(ctx context.Context, instanceID, name string) (*Signal, error)
	ConsumeSignal(ctx context.Context, signalID int64) error
}
