// Package common defines shared constants and sentinel errors used across
// the coldkeeper server layers. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned by compare-and-swap status updates when
	// the record is no longer in the expected state (e.g. two actors
	// resolving the same veto).
	ErrVersionConflict = errors.New("version conflict")

	// Workflow scheduling errors.
	ErrDuplicateWorkflow = errors.New("workflow instance already running")

	// ErrNonRetryable marks failures that must not be retried by activity
	// retry policies (bad input, missing recipient, blob size mismatch).
	ErrNonRetryable = errors.New("non-retryable")

	// Service-level errors.
	ErrInternal   = errors.New("internal error")
	ErrValidation = errors.New("validation error")

	// ErrTooManyFiles is returned when a retrieval request exceeds the
	// per-request file cap.
	ErrTooManyFiles = errors.New("too many files in request")
)

// NonRetryable wraps err so that errors.Is(err, ErrNonRetryable) holds while
// the original error text and chain are preserved.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }

func (e *nonRetryableError) Unwrap() error { return e.err }

func (e *nonRetryableError) Is(target error) bool { return target == ErrNonRetryable }
