package store

import (
	"context"
	"sort"
	"sync"

	"github.com/signalsfoundry/missionctl/model"
)

// MemoryStore is the in-process Store used for tests and ephemeral
// deployments.
type MemoryStore struct {
	mu           sync.Mutex
	states       map[string]model.OrbitalState // latest per satellite
	plans        map[string]model.ManeuverPlan
	cmds         map[string]model.Command
	reservations map[string]model.Reservation // windowID + "/" + commandID
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:       make(map[string]model.OrbitalState),
		plans:        make(map[string]model.ManeuverPlan),
		cmds:         make(map[string]model.Command),
		reservations: make(map[string]model.Reservation),
	}
}

func (s *MemoryStore) SaveState(_ context.Context, state model.OrbitalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.states[state.SatelliteID]; ok && cur.Version > state.Version {
		return nil // keep the newer snapshot
	}
	s.states[state.SatelliteID] = state
	return nil
}

func (s *MemoryStore) LatestState(_ context.Context, satelliteID string) (model.OrbitalState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[satelliteID]
	if !ok {
		return model.OrbitalState{}, ErrNotFound
	}
	return state, nil
}

func (s *MemoryStore) SavePlan(_ context.Context, plan model.ManeuverPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.ID] = plan
	return nil
}

func (s *MemoryStore) OpenPlans(_ context.Context) ([]model.ManeuverPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ManeuverPlan, 0, len(s.plans))
	for _, p := range s.plans {
		if p.Status.Terminal() {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveCommand(_ context.Context, cmd model.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds[cmd.ID] = cmd
	return nil
}

func (s *MemoryStore) OpenCommands(_ context.Context) ([]model.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Command, 0, len(s.cmds))
	for _, c := range s.cmds {
		if c.Status.Terminal() {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveReservation(_ context.Context, r model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[r.WindowID+"/"+r.CommandID] = r
	return nil
}

func (s *MemoryStore) DeleteReservation(_ context.Context, windowID, commandID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reservations, windowID+"/"+commandID)
	return nil
}

func (s *MemoryStore) Reservations(_ context.Context) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Reservation, 0, len(s.reservations))
	for _, r := range s.reservations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WindowID != out[j].WindowID {
			return out[i].WindowID < out[j].WindowID
		}
		return out[i].CommandID < out[j].CommandID
	})
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
