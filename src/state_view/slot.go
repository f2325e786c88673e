package state_view

import (
	"sync"
	"sync/atomic"
)

// versioned pairs a snapshot with the install counter it was published under.
type versioned[S StateView] struct {
	view    S
	version uint64
}

// Slot holds the current snapshot. It starts empty and is replaced wholesale
// by whoever produces new snapshots. Readers never take a lock; Replace only
// swaps a pointer, so lookups already running keep the snapshot they loaded.
type Slot[S StateView] struct {
	current atomic.Pointer[versioned[S]]
	version uint64
	mu      sync.Mutex // serializes writers
}

// NewSlot returns an empty Slot.
func NewSlot[S StateView]() *Slot[S] {
	return &Slot[S]{}
}

// Replace installs view as the current snapshot and returns its version.
// A nil view empties the slot and returns 0.
func (s *Slot[S]) Replace(view S) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if any(view) == nil {
		s.current.Store(nil)
		return 0
	}
	s.version++
	s.current.Store(&versioned[S]{view: view, version: s.version})
	return s.version
}

// Current pins the snapshot that is current right now.
func (s *Slot[S]) Current() (S, uint64, error) {
	cur := s.current.Load()
	if cur == nil {
		var zero S
		return zero, 0, ErrNoSnapshot
	}
	return cur.view, cur.version, nil
}

// ReadOne resolves key against whatever snapshot is current at the time of
// the call. Two calls may observe different snapshots.
func (s *Slot[S]) ReadOne(key StateKey) (*StateValue, error) {
	view, _, err := s.Current()
	if err != nil {
		return nil, err
	}
	return view.GetStateValue(key)
}

// Version returns the version of the current snapshot, 0 when empty.
func (s *Slot[S]) Version() uint64 {
	cur := s.current.Load()
	if cur == nil {
		return 0
	}
	return cur.version
}
