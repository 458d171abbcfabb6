// Package schedule tracks ground-station contact windows and allocates
// transmission capacity within them.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/missionctl/model"
)

var (
	// ErrWindowConflict indicates the requested range overlaps an existing
	// reservation in the same window.
	ErrWindowConflict = errors.New("window conflict")
	// ErrWindowNotFound indicates an unknown contact window ID.
	ErrWindowNotFound = errors.New("contact window not found")
	// ErrOutsideWindow indicates the requested range does not fit inside
	// the window bounds.
	ErrOutsideWindow = errors.New("requested range outside contact window")
)

// ContactSchedule holds the externally supplied contact windows plus the
// active reservations. Reserve is linearizable: all mutation happens
// under one lock, so of two concurrent overlapping requests exactly one
// wins.
type ContactSchedule struct {
	mu           sync.Mutex
	windows      map[string]model.ContactWindow
	reservations map[string][]model.Reservation // keyed by window ID
}

// NewContactSchedule returns an empty schedule.
func NewContactSchedule() *ContactSchedule {
	return &ContactSchedule{
		windows:      make(map[string]model.ContactWindow),
		reservations: make(map[string][]model.Reservation),
	}
}

// AddWindow registers a contact window. Re-adding an ID replaces the
// window but keeps its reservations.
func (s *ContactSchedule) AddWindow(w model.ContactWindow) error {
	if w.ID == "" {
		return fmt.Errorf("contact window has empty ID")
	}
	if !w.End.After(w.Start) {
		return fmt.Errorf("contact window %s end %v not after start %v", w.ID, w.End, w.Start)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[w.ID] = w
	return nil
}

// Window returns the window by ID.
func (s *ContactSchedule) Window(id string) (model.ContactWindow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	return w, ok
}

// Upcoming returns windows that end after now, ordered by start time.
func (s *ContactSchedule) Upcoming(now time.Time) []model.ContactWindow {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.ContactWindow, 0, len(s.windows))
	for _, w := range s.windows {
		if w.End.After(now) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Reserve atomically allocates [from, to) of the window's transmission
// capacity for a command. It fails with ErrWindowConflict if the range
// overlaps an existing reservation in the same window.
func (s *ContactSchedule) Reserve(windowID, commandID string, from, to time.Time) (model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[windowID]
	if !ok {
		return model.Reservation{}, fmt.Errorf("%w: %s", ErrWindowNotFound, windowID)
	}
	if !w.Contains(from, to) {
		return model.Reservation{}, fmt.Errorf("%w: [%v, %v) vs window %s [%v, %v)",
			ErrOutsideWindow, from, to, windowID, w.Start, w.End)
	}
	for _, r := range s.reservations[windowID] {
		if model.Overlaps(from, to, r.Start, r.End) {
			return model.Reservation{}, fmt.Errorf("%w: [%v, %v) overlaps reservation for command %s",
				ErrWindowConflict, from, to, r.CommandID)
		}
	}

	res := model.Reservation{WindowID: windowID, CommandID: commandID, Start: from, End: to}
	s.reservations[windowID] = append(s.reservations[windowID], res)
	return res, nil
}

// Release frees the reservation held by a command in a window. Releasing
// a reservation that does not exist is a no-op.
func (s *ContactSchedule) Release(windowID, commandID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.reservations[windowID][:0]
	for _, r := range s.reservations[windowID] {
		if r.CommandID != commandID {
			kept = append(kept, r)
		}
	}
	s.reservations[windowID] = kept
}

// Reservations snapshots all active reservations, for persistence.
func (s *ContactSchedule) Reservations() []model.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Reservation
	for _, rs := range s.reservations {
		out = append(out, rs...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WindowID != out[j].WindowID {
			return out[i].WindowID < out[j].WindowID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// Restore reinstates persisted reservations, replacing current ones.
// Reservations for unknown windows are dropped.
func (s *ContactSchedule) Restore(rs []model.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reservations = make(map[string][]model.Reservation)
	for _, r := range rs {
		if _, ok := s.windows[r.WindowID]; !ok {
			continue
		}
		s.reservations[r.WindowID] = append(s.reservations[r.WindowID], r)
	}
}
