package model

import "time"

// EventKind discriminates outbound event records.
type EventKind string

const (
	EventCommandTransition EventKind = "command_transition"
	EventPlanTransition    EventKind = "plan_transition"
	EventAnomalyRaised     EventKind = "anomaly_raised"
	EventAnomalyCleared    EventKind = "anomaly_cleared"
)

// Event is a discrete, timestamped, append-only record consumable by
// dashboards and alerting. The field set is the contract; encoding is the
// sink's concern.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	// EntityID names the command, plan, or satellite the event concerns.
	EntityID  string `json:"entity_id"`
	PrevState string `json:"prev_state,omitempty"`
	NewState  string `json:"new_state,omitempty"`
	Reason    string `json:"reason"`
}

// AnomalyEvent is raised when the anomaly scorer's confidence exceeds the
// configured threshold. It stays active until explicitly cleared.
type AnomalyEvent struct {
	ID          string          `json:"id"`
	SatelliteID string          `json:"satellite_id"`
	Subsystem   string          `json:"subsystem"`
	Type        string          `json:"type"`
	Confidence  float64         `json:"confidence"`
	Sample      TelemetrySample `json:"sample"`
	RaisedAt    time.Time       `json:"raised_at"`
	ClearedAt   *time.Time      `json:"cleared_at,omitempty"`
}

// Active reports whether the anomaly is still unresolved.
func (a *AnomalyEvent) Active() bool { return a.ClearedAt == nil }
