package registry

import (
	"context"
	"sync"
)

// PendingSwitch is an application change waiting for the peer's next ready
// point.
type PendingSwitch struct {
	Target string `json:"target"`
	Drain  bool   `json:"drain"`
}

// SwitchState is everything tracked about one peer's application.
type SwitchState struct {
	Active  string         `json:"active"`
	Pending *PendingSwitch `json:"pending,omitempty"`
}

// SwitchStore persists SwitchState by peer. Load of an unknown peer returns
// the zero state. Update applies fn to the current state and stores the
// result atomically with respect to other updates of the same peer; an error
// from fn leaves the state unchanged.
type SwitchStore interface {
	Load(ctx context.Context, peer string) (SwitchState, error)
	Update(ctx context.Context, peer string, fn func(*SwitchState) error) error
	Delete(ctx context.Context, peer string) error
}

func (st SwitchState) clone() SwitchState {
	if st.Pending != nil {
		p := *st.Pending
		st.Pending = &p
	}
	return st
}

type MemorySwitchStore struct {
	mu     sync.Mutex
	states map[string]SwitchState
}

func NewMemorySwitchStore() *MemorySwitchStore {
	return &MemorySwitchStore{states: make(map[string]SwitchState)}
}

func (m *MemorySwitchStore) Load(_ context.Context, peer string) (SwitchState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[peer].clone(), nil
}

func (m *MemorySwitchStore) Update(_ context.Context, peer string, fn func(*SwitchState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.states[peer].clone()
	if err := fn(&st); err != nil {
		return err
	}
	m.states[peer] = st
	return nil
}

func (m *MemorySwitchStore) Delete(_ context.Context, peer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, peer)
	return nil
}
