package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/dzintars-a/coldkeeper/internal/common"
)

// MemStore is an in-memory Store used by tests and by single-process
// deployments that can tolerate losing history on restart.
type MemStore struct {
	mu        sync.Mutex
	instances map[string]*Instance
	events    map[string]map[int64]*Event
	signals   []*Signal
	nextSigID int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		instances: make(map[string]*Instance),
		events:    make(map[string]map[int64]*Event),
	}
}

func (s *MemStore) CreateInstance(ctx context.Context, inst *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.instances[inst.ID]; ok {
		if !existing.Status.IsTerminal() {
			return common.ErrDuplicateWorkflow
		}
		// Supersede the terminal predecessor together with its history.
		delete(s.events, inst.ID)
	}
	cp := *inst
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	s.instances[inst.ID] = &cp
	return nil
}

func (s *MemStore) UpdateInstance(ctx context.Context, id string, status Status, result []byte, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return common.ErrNotFound
	}
	inst.Status = status
	inst.Result = result
	inst.Error = errText
	inst.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) GetInstance(ctx context.Context, id string) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (s *MemStore) ListRunning(ctx context.Context) ([]*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Instance
	for _, inst := range s.instances {
		if !inst.Status.IsTerminal() {
			cp := *inst
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) AppendEvent(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := s.events[ev.InstanceID]
	if hist == nil {
		hist = make(map[int64]*Event)
		s.events[ev.InstanceID] = hist
	}
	if _, ok := hist[ev.CommandID]; ok {
		return nil
	}
	cp := *ev
	cp.RecordedAt = time.Now().UTC()
	hist[ev.CommandID] = &cp
	return nil
}

func (s *MemStore) LoadEvents(ctx context.Context, instanceID string) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Event
	for _, ev := range s.events[instanceID] {
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) AddSignal(ctx context.Context, sig *Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSigID++
	cp := *sig
	cp.ID = s.nextSigID
	cp.ReceivedAt = time.Now().UTC()
	s.signals = append(s.signals, &cp)
	return nil
}

func (s *MemStore) NextSignal(ctx context.Context, instanceID, name string) (*Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sig := range s.signals {
		if !sig.Consumed && sig.InstanceID == instanceID && sig.Name == name {
			cp := *sig
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemStore) ConsumeSignal(ctx context.Context, signalID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sig := range s.signals {
		if sig.ID == signalID {
			sig.Consumed = true
			return nil
		}
	}
	return common.ErrNotFound
}
