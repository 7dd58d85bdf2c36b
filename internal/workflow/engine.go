package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/logging"
)

// WorkflowFunc is registered orchestration code. It must be deterministic;
// all I/O goes through activities.
type WorkflowFunc func(ctx *Context, input []byte) ([]byte, error)

// ActivityFunc is a stateless, retryable unit of work. Activities execute
// at-least-once and must therefore be idempotent.
type ActivityFunc func(ctx context.Context, input []byte) ([]byte, error)

// Engine schedules workflow instances by deterministic id, runs their
// activities with bounded retries, persists decision histories and resumes
// interrupted instances after a restart.
type Engine struct {
	store   Store
	log     logging.Logger
	metrics *Metrics

	mu         sync.Mutex
	workflows  map[string]WorkflowFunc
	activities map[string]ActivityFunc
	runners    map[string]*runner

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(store Store, log logging.Logger, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:      store,
		log:        log,
		workflows:  make(map[string]WorkflowFunc),
		activities: make(map[string]ActivityFunc),
		runners:    make(map[string]*runner),
		baseCtx:    ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) RegisterWorkflow(kind string, fn WorkflowFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[kind] = fn
}

func (e *Engine) RegisterActivity(name string, fn ActivityFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activities[name] = fn
}

// Start schedules a new instance. An existing Running instance with the
// same id is rejected with common.ErrDuplicateWorkflow, never restarted;
// a terminal predecessor is superseded.
func (e *Engine) Start(ctx context.Context, kind, instanceID string, input []byte) error {
	e.mu.Lock()
	_, ok := e.workflows[kind]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown workflow kind %q", kind)
	}

	inst := &Instance{ID: instanceID, Kind: kind, Input: input, Status: StatusRunning}
	if err := e.store.CreateInstance(ctx, inst); err != nil {
		return err
	}
	e.metrics.workflowStarted(kind)
	e.launch(inst)
	return nil
}

// Signal queues an external signal for a running instance and wakes it.
// Unknown instances yield common.ErrNotFound; signaling a terminal
// instance is rejected.
func (e *Engine) Signal(ctx context.Context, instanceID, name string, payload []byte) error {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Status.IsTerminal() {
		return fmt.Errorf("%w: instance %s is %s", common.ErrNotFound, instanceID, inst.Status)
	}
	if err := e.store.AddSignal(ctx, &Signal{InstanceID: instanceID, Name: name, Payload: payload}); err != nil {
		return err
	}

	e.mu.Lock()
	r := e.runners[instanceID]
	e.mu.Unlock()
	if r != nil {
		r.notify()
	}
	return nil
}

// Status returns the current instance state.
func (e *Engine) Status(ctx context.Context, instanceID string) (*Instance, error) {
	return e.store.GetInstance(ctx, instanceID)
}

// Resume reloads every non-terminal instance and replays it against its
// persisted history. Called once at startup.
func (e *Engine) Resume(ctx context.Context) error {
	running, err := e.store.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("list running instances: %w", err)
	}
	for _, inst := range running {
		e.launch(inst)
	}
	return nil
}

// Shutdown cancels all in-flight instances and waits for their runners to
// park. Interrupted instances stay Running and resume on the next start.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the given instance's runner parks (terminal state or
// suspension). Intended for tests.
func (e *Engine) Wait(instanceID string) {
	for {
		e.mu.Lock()
		r := e.runners[instanceID]
		e.mu.Unlock()
		if r == nil {
			return
		}
		<-r.parked
	}
}

func (e *Engine) launch(inst *Instance) {
	e.mu.Lock()
	if _, running := e.runners[inst.ID]; running {
		e.mu.Unlock()
		return
	}
	r := &runner{
		engine: e,
		inst:   inst,
		wake:   make(chan struct{}, 1),
		parked: make(chan struct{}),
	}
	e.runners[inst.ID] = r
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		r.run()
	}()
}

type runner struct {
	engine *Engine
	inst   *Instance
	wake   chan struct{}
	parked chan struct{}
}

func (r *runner) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *runner) run() {
	e := r.engine
	defer func() {
		e.mu.Lock()
		delete(e.runners, r.inst.ID)
		e.mu.Unlock()
		close(r.parked)
	}()

	log := e.log.With("instance", r.inst.ID, "workflow", r.inst.Kind)

	events, err := e.store.LoadEvents(e.baseCtx, r.inst.ID)
	if err != nil {
		log.Error(e.baseCtx, "load history failed, leaving instance for resume", "error", err)
		return
	}
	history := make(map[int64]*Event, len(events))
	for _, ev := range events {
		history[ev.CommandID] = ev
	}

	e.mu.Lock()
	fn := e.workflows[r.inst.Kind]
	e.mu.Unlock()
	if fn == nil {
		log.Error(e.baseCtx, "no workflow registered for kind")
		return
	}

	wfCtx := &Context{
		ctx:        e.baseCtx,
		engine:     e,
		instanceID: r.inst.ID,
		history:    history,
		wake:       r.wake,
		log:        log,
	}

	result, err := r.invoke(fn, wfCtx)
	switch {
	case err == nil:
		if uerr := e.store.UpdateInstance(e.baseCtx, r.inst.ID, StatusCompleted, result, ""); uerr != nil {
			log.Error(e.baseCtx, "persist completion failed", "error", uerr)
			return
		}
		e.metrics.workflowFinished(r.inst.Kind, StatusCompleted)
		log.Info(e.baseCtx, "workflow completed")
	case IsCanceled(err) || errors.Is(err, context.Canceled):
		// Suspension, not failure. The instance stays Running and is
		// replayed by Resume.
		log.Info(e.baseCtx, "workflow suspended", "reason", err.Error())
	default:
		msg := err.Error()
		if len(msg) > 2000 {
			msg = msg[:2000]
		}
		if uerr := e.store.UpdateInstance(e.baseCtx, r.inst.ID, StatusFailed, nil, msg); uerr != nil {
			log.Error(e.baseCtx, "persist failure failed", "error", uerr)
			return
		}
		e.metrics.workflowFinished(r.inst.Kind, StatusFailed)
		log.Error(e.baseCtx, "workflow failed", "error", msg)
	}
}

// invoke runs the workflow function, converting panics into failures so a
// broken orchestration is durably recorded rather than tearing the
// process down. Cancellation panics (raised by context internals when
// persistence is gone) suspend instead.
func (r *runner) invoke(fn WorkflowFunc, wfCtx *Context) (result []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			if ce, ok := p.(*CanceledError); ok {
				err = ce
				return
			}
			err = fmt.Errorf("workflow panic: %v", p)
		}
	}()
	return fn(wfCtx, r.inst.Input)
}

// runActivity executes one activity under its retry policy. Transient
// failures back off in real time; non-retryable and exhausted failures are
// returned for recording as deterministic business outcomes.
func (e *Engine) runActivity(ctx context.Context, name string, input []byte, policy RetryPolicy) ([]byte, error) {
	e.mu.Lock()
	fn := e.activities[name]
	e.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("unknown activity %q", name)
	}

	attempts := policy.attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		e.metrics.activityAttempt(name)
		out, err := fn(ctx, input)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, &CanceledError{Cause: ctx.Err()}
		}
		lastErr = err
		e.metrics.activityFailure(name)
		if errors.Is(err, common.ErrNonRetryable) || attempt == attempts {
			break
		}

		delay := policy.backoff(attempt)
		e.log.Warn(ctx, "activity attempt failed, retrying",
			"activity", name, "attempt", attempt, "backoff", delay.String(), "error", err.Error())
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &CanceledError{Cause: ctx.Err()}
		case <-timer.C:
		}
	}
	return nil, lastErr
}
