package workflows

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dzintars-a/coldkeeper/internal/workflow"
)

// Rehydrate restores one deep-archived file and republishes it. The full
// sequence (initiate, poll, retrieve) is attempted up to RehydrateAttempts
// times with exponential backoff between attempts; exhausting them
// persists the failure on the operation before the run fails.
func (w *Workflows) Rehydrate(ctx *workflow.Context, input []byte) ([]byte, error) {
	var in RehydrateInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}

	attempts := w.params.RehydrateAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	backoff := w.params.RehydrateInitialBackoff
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := ctx.Sleep(backoff); err != nil {
				return nil, err
			}
			backoff *= 3
		}

		err := w.rehydrateOnce(ctx, in)
		if err == nil {
			return json.Marshal(RehydrateResult{FileID: in.FileID, Attempts: attempt})
		}
		if workflow.IsCanceled(err) {
			return nil, err
		}
		ctx.Logger().Warn(ctx.StdContext(), "rehydration attempt failed",
			"attempt", attempt, "file", in.FileID, "error", err.Error())
		lastErr = err
	}

	// Persist the failure on the operation itself so it stays visible
	// independently of this instance's history.
	ferr := ctx.ExecuteActivity(ActivityFailOperation,
		failOpInput{OperationID: in.OperationID, Error: lastErr.Error()},
		nil, w.params.StatusRetry)
	if ferr != nil {
		return nil, ferr
	}
	return nil, lastErr
}

// rehydrateOnce runs one full restore sequence: initiate the restore,
// poll on a fixed cadence bounded by the ceiling (with one final check
// after it), then retrieve and republish.
func (w *Workflows) rehydrateOnce(ctx *workflow.Context, in RehydrateInput) error {
	probe := restoreInput{
		TenantID:    in.TenantID,
		FileID:      in.FileID,
		OperationID: in.OperationID,
		BlobKey:     in.BlobKey,
		KeepDays:    w.params.RestoreKeepDays,
	}

	var st restoreState
	if err := ctx.ExecuteActivity(ActivityInitiateRestore, probe, &st, w.params.StatusRetry); err != nil {
		return err
	}

	if !st.Warm {
		deadline := ctx.Now().Add(w.params.PollCeiling)
		for !st.Warm && ctx.Now().Before(deadline) {
			if err := ctx.Sleep(w.params.PollInterval); err != nil {
				return err
			}
			if err := ctx.ExecuteActivity(ActivityCheckRestore, probe, &st, w.params.StatusRetry); err != nil {
				return err
			}
		}
		if !st.Warm {
			// Ceiling exhausted; one final probe decides.
			if err := ctx.ExecuteActivity(ActivityCheckRestore, probe, &st, w.params.StatusRetry); err != nil {
				return err
			}
			if !st.Warm {
				return errors.New("restore did not complete within the polling ceiling")
			}
		}
	}

	if err := ctx.ExecuteActivity(ActivityMarkRetrieving, probe, nil, w.params.StatusRetry); err != nil {
		return err
	}

	return ctx.ExecuteActivity(ActivityRetrieveFile, retrieveInput{
		TenantID:    in.TenantID,
		FileID:      in.FileID,
		OperationID: in.OperationID,
		BlobKey:     in.BlobKey,
		Path:        in.Path,
	}, nil, w.params.StatusRetry)
}
