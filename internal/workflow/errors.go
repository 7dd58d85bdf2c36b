package workflow

import (
	"errors"
	"fmt"
)

// CanceledError marks engine-level cancellation (shutdown, persistence
// unavailable mid-run). Workflow code must return it unchanged; the runner
// then leaves the instance resumable instead of marking it failed.
// Cancellation is never a business outcome.
type CanceledError struct {
	Cause error
}

func (e *CanceledError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("workflow canceled: %v", e.Cause)
	}
	return "workflow canceled"
}

func (e *CanceledError) Unwrap() error { return e.Cause }

// IsCanceled reports whether err is (or wraps) engine cancellation.
func IsCanceled(err error) bool {
	var ce *CanceledError
	return errors.As(err, &ce)
}

// ActivityError is the recorded business failure of an activity after its
// retry policy was exhausted (or the failure was non-retryable). Replay
// deterministically reproduces the same error.
type ActivityError struct {
	Activity string
	Message  string
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %s failed: %s", e.Activity, e.Message)
}
