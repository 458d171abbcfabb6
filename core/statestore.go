package core

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/signalsfoundry/missionctl/model"
)

var (
	// ErrIntegrity indicates a physical-state invariant was violated by an
	// attempted install. The store freezes rather than repair silently.
	ErrIntegrity = errors.New("orbital state integrity violation")
	// ErrStateFrozen indicates the store was frozen by a previous
	// integrity violation and needs operator intervention.
	ErrStateFrozen = errors.New("orbital state store is frozen")
)

// StateStore holds the versioned best-estimate OrbitalState under a
// single-writer/multiple-reader discipline. Readers get immutable
// snapshots from an atomic pointer; writers serialize on a mutex and
// install a new value only after validation.
type StateStore struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[model.OrbitalState]

	frozen       atomic.Bool
	frozenReason string
}

// NewStateStore seeds the store with an initial state.
func NewStateStore(initial model.OrbitalState) (*StateStore, error) {
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("initial state invalid: %w", err)
	}
	s := &StateStore{}
	snap := initial
	s.current.Store(&snap)
	return s, nil
}

// Current returns a copy of the held state. Safe for concurrent use.
func (s *StateStore) Current() model.OrbitalState {
	return *s.current.Load()
}

// Frozen reports whether the store has been frozen, and why.
func (s *StateStore) Frozen() (bool, string) {
	if !s.frozen.Load() {
		return false, ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return true, s.frozenReason
}

// Install atomically replaces the held state. The new state must carry a
// strictly later epoch, a later version, and pass validation; any
// violation freezes the store and surfaces ErrIntegrity rather than
// silently repairing a broken physical state.
//
// Callers that derive next from a prior Current() read must use Update
// instead: Install alone cannot tell a genuine violation from a stale
// read that lost a race with another writer.
func (s *StateStore) Install(next model.OrbitalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen.Load() {
		return fmt.Errorf("%w: %s", ErrStateFrozen, s.frozenReason)
	}
	return s.installLocked(next)
}

// Update runs fn against the held state and installs its result, with
// the writer lock held across the whole read-modify-install sequence so
// concurrent updaters never interleave. fn errors abort the update
// without freezing; apply=false leaves the state unchanged and returns
// it. Install validation failures freeze as in Install.
func (s *StateStore) Update(fn func(cur model.OrbitalState) (next model.OrbitalState, apply bool, err error)) (model.OrbitalState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen.Load() {
		return model.OrbitalState{}, fmt.Errorf("%w: %s", ErrStateFrozen, s.frozenReason)
	}

	cur := *s.current.Load()
	next, apply, err := fn(cur)
	if err != nil {
		return model.OrbitalState{}, err
	}
	if !apply {
		return cur, nil
	}
	if err := s.installLocked(next); err != nil {
		return model.OrbitalState{}, err
	}
	return next, nil
}

func (s *StateStore) installLocked(next model.OrbitalState) error {
	cur := s.current.Load()
	if !next.Epoch.After(cur.Epoch) {
		return s.freezeLocked(fmt.Sprintf("epoch %s does not advance past %s (monotonic-epoch invariant)", next.Epoch.Format("2006-01-02T15:04:05.000Z07:00"), cur.Epoch.Format("2006-01-02T15:04:05.000Z07:00")))
	}
	if next.Version <= cur.Version {
		return s.freezeLocked(fmt.Sprintf("version %d does not advance past %d", next.Version, cur.Version))
	}
	if err := next.Validate(); err != nil {
		return s.freezeLocked(err.Error())
	}

	snap := next
	s.current.Store(&snap)
	return nil
}

// freezeLocked marks the store frozen and returns the integrity error.
// Callers must hold mu.
func (s *StateStore) freezeLocked(reason string) error {
	s.frozen.Store(true)
	s.frozenReason = reason
	return fmt.Errorf("%w: %s", ErrIntegrity, reason)
}

// Unfreeze clears the frozen flag after operator intervention. The held
// state is whatever was last valid.
func (s *StateStore) Unfreeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen.Store(false)
	s.frozenReason = ""
}
