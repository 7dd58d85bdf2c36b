package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// Future is the pending result of an asynchronously executed activity.
type Future struct {
	activity string
	done     chan struct{}
	ev       *Event
	err      error
}

// Get blocks until the activity completes and decodes its JSON result into
// out (which may be nil). Business failures come back as *ActivityError,
// identical on every replay; engine cancellation as *CanceledError.
func (f *Future) Get(out any) error {
	<-f.done
	if f.err != nil {
		return f.err
	}
	if f.ev.Error != "" {
		return &ActivityError{Activity: f.activity, Message: f.ev.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(f.ev.Payload, out); err != nil {
		return fmt.Errorf("decode result of activity %s: %w", f.activity, err)
	}
	return nil
}

// SignalFuture is an armed external-signal wait. See Context.ArmSignal.
type SignalFuture struct {
	c        *Context
	name     string
	deadline time.Time
	cmd      int64
}

// Wait blocks until a matching signal arrives or the armed deadline
// passes. It returns (payload, true) on a matched signal and (nil, false)
// on timeout. The decision is recorded, so replay never re-waits.
//
// Matching consumes the oldest queued signal with this name. Consumption
// is confirmed after the decision is recorded, so a crash in between may
// deliver the same signal once more after resume (at-least-once).
func (s *SignalFuture) Wait() ([]byte, bool, error) {
	c := s.c
	if ev, ok := c.recorded(s.cmd); ok {
		if ev.Kind == EventSignal {
			return ev.Payload, true, nil
		}
		return nil, false, nil
	}

	for {
		sig, err := c.engine.store.NextSignal(c.ctx, c.instanceID, s.name)
		if err != nil {
			return nil, false, &CanceledError{Cause: fmt.Errorf("poll signals: %w", err)}
		}
		if sig != nil {
			c.record(&Event{CommandID: s.cmd, Kind: EventSignal, Name: s.name, Payload: sig.Payload})
			if err := c.engine.store.ConsumeSignal(c.ctx, sig.ID); err != nil {
				c.log.Warn(c.ctx, "consume signal failed", "signal", sig.ID, "error", err.Error())
			}
			return sig.Payload, true, nil
		}

		remaining := time.Until(s.deadline)
		if remaining <= 0 {
			c.record(&Event{CommandID: s.cmd, Kind: EventSignalTimeout, Name: s.name})
			return nil, false, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return nil, false, &CanceledError{Cause: c.ctx.Err()}
		case <-c.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}
