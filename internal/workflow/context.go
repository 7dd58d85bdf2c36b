package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dzintars-a/coldkeeper/internal/logging"
)

// Context is the deterministic façade workflow functions run against.
// Every method first consults the persisted history by command id; only
// undecided commands execute for real.
type Context struct {
	ctx        context.Context
	engine     *Engine
	instanceID string

	mu      sync.Mutex
	history map[int64]*Event
	nextCmd int64

	wake chan struct{}
	log  logging.Logger
}

// Logger returns a logger scoped to the instance. Log output is a side
// channel: entries may repeat across replays and their ordering relative
// to signal arrival is non-deterministic (the wait durations are not,
// since all armed deadlines are recorded).
func (c *Context) Logger() logging.Logger { return c.log }

// InstanceID returns the deterministic id of the running instance.
func (c *Context) InstanceID() string { return c.instanceID }

// StdContext returns the engine-scoped context.Context backing this
// instance, for side channels such as logging. Workflow decisions must
// never branch on it.
func (c *Context) StdContext() context.Context { return c.ctx }

func (c *Context) next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextCmd++
	return c.nextCmd
}

func (c *Context) recorded(cmd int64) (*Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.history[cmd]
	return ev, ok
}

// record persists ev and mirrors it into the in-memory history. A
// persistence failure suspends the instance via a cancellation panic; the
// command is re-decided after resume.
func (c *Context) record(ev *Event) {
	ev.InstanceID = c.instanceID
	if err := c.engine.store.AppendEvent(c.ctx, ev); err != nil {
		panic(&CanceledError{Cause: fmt.Errorf("append event: %w", err)})
	}
	c.mu.Lock()
	c.history[ev.CommandID] = ev
	c.mu.Unlock()
}

// Now returns a replay-stable current time: observed once, recorded, and
// returned unchanged on every replay.
func (c *Context) Now() time.Time {
	cmd := c.next()
	if ev, ok := c.recorded(cmd); ok {
		t, err := time.Parse(time.RFC3339Nano, string(ev.Payload))
		if err != nil {
			panic(fmt.Errorf("corrupt now event %d: %w", cmd, err))
		}
		return t
	}
	t := time.Now().UTC()
	c.record(&Event{CommandID: cmd, Kind: EventNow, Payload: []byte(t.Format(time.RFC3339Nano))})
	return t
}

// ExecuteActivity runs a named activity and decodes its JSON result into
// out (which may be nil). The returned error is either a deterministic
// *ActivityError or a *CanceledError.
func (c *Context) ExecuteActivity(name string, in, out any, policy RetryPolicy) error {
	return c.ExecuteActivityAsync(name, in, policy).Get(out)
}

// ExecuteActivityAsync schedules an activity and returns a Future. Command
// ids are assigned at call time, so fanning out a batch and awaiting the
// futures in any order replays identically.
func (c *Context) ExecuteActivityAsync(name string, in any, policy RetryPolicy) *Future {
	cmd := c.next()
	f := &Future{activity: name, done: make(chan struct{})}

	if ev, ok := c.recorded(cmd); ok {
		f.ev = ev
		close(f.done)
		return f
	}

	input, err := json.Marshal(in)
	if err != nil {
		// Programmer error; fail the workflow.
		panic(fmt.Errorf("marshal input for activity %s: %w", name, err))
	}

	go func() {
		payload, aerr := c.engine.runActivity(c.ctx, name, input, policy)
		if aerr != nil && IsCanceled(aerr) {
			f.err = aerr
			close(f.done)
			return
		}
		ev := &Event{CommandID: cmd, Kind: EventActivity, Name: name, Payload: payload}
		if aerr != nil {
			ev.Error = aerr.Error()
		}
		func() {
			defer func() {
				if p := recover(); p != nil {
					if ce, ok := p.(*CanceledError); ok {
						f.err = ce
						return
					}
					panic(p)
				}
			}()
			c.record(ev)
			f.ev = ev
		}()
		close(f.done)
	}()
	return f
}

// Sleep is a durable timer. The deadline is recorded when first reached,
// so a process restart resumes the remaining wait instead of restarting it.
func (c *Context) Sleep(d time.Duration) error {
	deadline := c.armDeadline(EventTimerScheduled, "", d)

	cmd := c.next()
	if _, ok := c.recorded(cmd); ok {
		return nil
	}
	if err := c.waitUntil(deadline); err != nil {
		return err
	}
	c.record(&Event{CommandID: cmd, Kind: EventTimerFired})
	return nil
}

// ArmSignal registers interest in a named external signal with a timeout.
// The deadline is recorded at arm time: arming a batch of signals and then
// awaiting them one at a time gives every wait the same wall-clock
// deadline regardless of await order.
func (c *Context) ArmSignal(name string, timeout time.Duration) *SignalFuture {
	deadline := c.armDeadline(EventSignalArmed, name, timeout)
	cmd := c.next()
	return &SignalFuture{c: c, name: name, deadline: deadline, cmd: cmd}
}

// armDeadline records (or replays) an absolute deadline event.
func (c *Context) armDeadline(kind EventKind, name string, d time.Duration) time.Time {
	cmd := c.next()
	if ev, ok := c.recorded(cmd); ok {
		t, err := time.Parse(time.RFC3339Nano, string(ev.Payload))
		if err != nil {
			panic(fmt.Errorf("corrupt deadline event %d: %w", cmd, err))
		}
		return t
	}
	deadline := time.Now().UTC().Add(d)
	c.record(&Event{CommandID: cmd, Kind: kind, Name: name,
		Payload: []byte(deadline.Format(time.RFC3339Nano))})
	return deadline
}

func (c *Context) waitUntil(deadline time.Time) error {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		return &CanceledError{Cause: c.ctx.Err()}
	case <-timer.C:
		return nil
	}
}
