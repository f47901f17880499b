package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrExhausted = errors.New("logical units exhausted")

// DefaultSize is the LU pool capacity when none is configured.
const DefaultSize = 100

// LU is one logical unit handed to a connection for its lifetime.
type LU struct {
	TerminalID string
	SystemName string
}

func (lu LU) String() string {
	return lu.TerminalID + "@" + lu.SystemName
}

// Registry owns the LU pool and the per-peer application switch state.
type Registry struct {
	mu   sync.Mutex // guards the pool only
	size int
	free []LU
	held map[string]LU

	switches SwitchStore
}

// New builds a pool of size LUs. Terminal IDs and system names are the
// prefixes padded with zeros to eight characters, numbered from 1.
func New(size int, luPrefix, systemPrefix string, store SwitchStore) *Registry {
	if size <= 0 {
		size = DefaultSize
	}
	if store == nil {
		store = NewMemorySwitchStore()
	}
	r := &Registry{
		size:     size,
		free:     make([]LU, 0, size),
		held:     make(map[string]LU, size),
		switches: store,
	}
	for i := 1; i <= size; i++ {
		r.free = append(r.free, LU{
			TerminalID: luName(luPrefix, i),
			SystemName: luName(systemPrefix, i),
		})
	}
	return r
}

func luName(prefix string, n int) string {
	digits := 8 - len(prefix)
	if digits < 1 {
		digits = 1
	}
	return fmt.Sprintf("%s%0*d", prefix, digits, n)
}

// Acquire hands out the least recently released LU.
func (r *Registry) Acquire() (LU, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.free) == 0 {
		return LU{}, ErrExhausted
	}
	lu := r.free[0]
	r.free = r.free[1:]
	r.held[lu.TerminalID] = lu
	return lu, nil
}

// Release returns lu to the back of the pool. Releasing an LU that is not
// held is a programming error.
func (r *Registry) Release(lu LU) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.held[lu.TerminalID]; !ok {
		panic(fmt.Sprintf("registry: release of unheld LU %s", lu))
	}
	delete(r.held, lu.TerminalID)
	r.free = append(r.free, lu)
}

func (r *Registry) InUse() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}

func (r *Registry) Capacity() int {
	return r.size
}

// The switch methods go straight to the SwitchStore, which may be remote,
// and never take the pool lock.

// RequestSwitch records that peer should move to target at its next ready
// point. With drain set the current application finishes its output first.
func (r *Registry) RequestSwitch(ctx context.Context, peer, target string, drain bool) error {
	return r.switches.Update(ctx, peer, func(st *SwitchState) error {
		st.Pending = &PendingSwitch{Target: target, Drain: drain}
		return nil
	})
}

// PendingSwitch returns the outstanding switch for peer, if any.
func (r *Registry) PendingSwitch(ctx context.Context, peer string) (PendingSwitch, bool, error) {
	st, err := r.switches.Load(ctx, peer)
	if err != nil || st.Pending == nil {
		return PendingSwitch{}, false, err
	}
	return *st.Pending, true, nil
}

// CompleteSwitch makes the pending target the active application.
func (r *Registry) CompleteSwitch(ctx context.Context, peer string) (string, error) {
	var active string
	err := r.switches.Update(ctx, peer, func(st *SwitchState) error {
		if st.Pending != nil {
			st.Active = st.Pending.Target
			st.Pending = nil
		}
		active = st.Active
		return nil
	})
	return active, err
}

func (r *Registry) SetActive(ctx context.Context, peer, app string) error {
	return r.switches.Update(ctx, peer, func(st *SwitchState) error {
		st.Active = app
		return nil
	})
}

func (r *Registry) Active(ctx context.Context, peer string) (string, error) {
	st, err := r.switches.Load(ctx, peer)
	return st.Active, err
}

// Forget drops all switch state for peer.
func (r *Registry) Forget(ctx context.Context, peer string) error {
	return r.switches.Delete(ctx, peer)
}
