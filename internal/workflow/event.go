package workflow

import "time"

// EventKind enumerates the record types in an instance history.
type EventKind string

const (
	// EventNow records a Context.Now observation.
	EventNow EventKind = "now"
	// EventActivity records an activity completion (success or business
	// failure after retries were exhausted).
	EventActivity EventKind = "activity"
	// EventTimerScheduled records the absolute deadline of a durable timer,
	// so a restart resumes the wait instead of restarting it.
	EventTimerScheduled EventKind = "timer_scheduled"
	// EventTimerFired records that the timer deadline passed.
	EventTimerFired EventKind = "timer_fired"
	// EventSignalArmed records the absolute deadline of an armed signal wait.
	EventSignalArmed EventKind = "signal_armed"
	// EventSignal records a matched external signal payload.
	EventSignal EventKind = "signal"
	// EventSignalTimeout records that a signal wait expired unmatched.
	EventSignalTimeout EventKind = "signal_timeout"
)

// Event is one record in an instance history. CommandID is assigned by the
// workflow context's deterministic counter; replay looks events up by
// command id, so the order results were appended (e.g. from parallel
// activities) does not matter.
type Event struct {
	InstanceID string
	CommandID  int64
	Kind       EventKind
	// Name is the activity or signal name, informational for other kinds.
	Name    string
	Payload []byte
	// Error carries a recorded business failure of an activity. Replay
	// returns the same failure without re-running the activity.
	Error      string
	RecordedAt time.Time
}
