package reconciler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/missionctl/model"
)

// Registry tracks active anomalies, at most one per subsystem. It backs
// the pipeline's transmission hold check.
type Registry struct {
	mu     sync.Mutex
	active map[string]*model.AnomalyEvent // keyed by subsystem
	byID   map[string]*model.AnomalyEvent
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]*model.AnomalyEvent),
		byID:   make(map[string]*model.AnomalyEvent),
	}
}

// Raise records an anomaly. A subsystem already under an active anomaly
// keeps the earlier one; Raise reports whether the new anomaly took
// effect.
func (r *Registry) Raise(a *model.AnomalyEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.active[a.Subsystem]; ok && existing.Active() {
		return false
	}
	owned := *a
	r.active[a.Subsystem] = &owned
	r.byID[a.ID] = &owned
	return true
}

// Clear resolves an anomaly by ID, returning the cleared record.
func (r *Registry) Clear(id string, at time.Time) (*model.AnomalyEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok || !a.Active() {
		return nil, fmt.Errorf("%w: %s", ErrAnomalyNotFound, id)
	}
	cleared := at
	a.ClearedAt = &cleared
	delete(r.active, a.Subsystem)
	out := *a
	return &out, nil
}

// Held reports whether any of the given subsystems is under an active
// anomaly.
func (r *Registry) Held(subsystems []string) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range subsystems {
		if a, ok := r.active[sub]; ok && a.Active() {
			return true, fmt.Sprintf("anomaly %s (%s) active on %s", a.ID, a.Type, sub)
		}
	}
	return false, ""
}

// Active snapshots the unresolved anomalies, ordered by subsystem.
func (r *Registry) Active() []model.AnomalyEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.AnomalyEvent, 0, len(r.active))
	for _, a := range r.active {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subsystem < out[j].Subsystem })
	return out
}
