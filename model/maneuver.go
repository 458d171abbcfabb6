package model

import (
	"fmt"
	"time"
)

// PlanStatus tracks a ManeuverPlan through its lifecycle.
type PlanStatus int

const (
	PlanDraft PlanStatus = iota
	PlanValidated
	PlanScheduled
	PlanExecuting
	PlanCompleted
	PlanAborted
)

func (s PlanStatus) String() string {
	switch s {
	case PlanDraft:
		return "DRAFT"
	case PlanValidated:
		return "VALIDATED"
	case PlanScheduled:
		return "SCHEDULED"
	case PlanExecuting:
		return "EXECUTING"
	case PlanCompleted:
		return "COMPLETED"
	case PlanAborted:
		return "ABORTED"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further plan transitions are possible.
func (s PlanStatus) Terminal() bool {
	return s == PlanCompleted || s == PlanAborted
}

// BurnSegment is a single thrust arc within a plan.
type BurnSegment struct {
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
	// DeltaV is the velocity change in m/s, expressed in the RTN
	// (radial, transverse, normal) frame at burn start.
	DeltaV Vec3 `json:"delta_v_ms"`
	// FuelKg is the estimated propellant cost of the segment.
	FuelKg float64 `json:"fuel_kg"`
	// Subsystem names the thruster/attitude resource the burn occupies.
	Subsystem string `json:"subsystem"`
}

// End returns the segment end time.
func (b BurnSegment) End() time.Time { return b.Start.Add(b.Duration) }

// Magnitude returns the scalar delta-v of the segment in m/s.
func (b BurnSegment) Magnitude() float64 { return b.DeltaV.Norm() }

// Constraints are the hard limits a plan must satisfy. Violating any of
// them disqualifies a candidate outright.
type Constraints struct {
	MaxDeltaVms   float64       `json:"max_delta_v_ms"`
	MaxDuration   time.Duration `json:"max_duration"`
	MinAltitudeKm float64       `json:"min_altitude_km"`
	MaxAltitudeKm float64       `json:"max_altitude_km"`
}

// ManeuverPlan is an ordered burn sequence toward a target state.
// Once Scheduled the burn sequence is immutable; only Status may change.
type ManeuverPlan struct {
	ID          string        `json:"id"`
	SatelliteID string        `json:"satellite_id"`
	Segments    []BurnSegment `json:"segments"`
	Target      Elements      `json:"target"`
	Constraints Constraints   `json:"constraints"`
	Status      PlanStatus    `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

// TotalDeltaV sums segment magnitudes in m/s.
func (p *ManeuverPlan) TotalDeltaV() float64 {
	var total float64
	for _, s := range p.Segments {
		total += s.Magnitude()
	}
	return total
}

// TotalFuelKg sums segment fuel estimates.
func (p *ManeuverPlan) TotalFuelKg() float64 {
	var total float64
	for _, s := range p.Segments {
		total += s.FuelKg
	}
	return total
}

// CompletionTime returns the end of the final segment, or the zero time
// for an empty plan.
func (p *ManeuverPlan) CompletionTime() time.Time {
	if len(p.Segments) == 0 {
		return time.Time{}
	}
	return p.Segments[len(p.Segments)-1].End()
}

// Duration is the span from first segment start to last segment end.
func (p *ManeuverPlan) Duration() time.Duration {
	if len(p.Segments) == 0 {
		return 0
	}
	return p.CompletionTime().Sub(p.Segments[0].Start)
}

// planTransitions lists the legal forward edges of the plan lifecycle.
var planTransitions = map[PlanStatus][]PlanStatus{
	PlanDraft:     {PlanValidated, PlanAborted},
	PlanValidated: {PlanScheduled, PlanAborted},
	PlanScheduled: {PlanExecuting, PlanAborted},
	PlanExecuting: {PlanCompleted, PlanAborted},
}

// CanTransition reports whether from -> to is a legal plan edge.
func CanTransitionPlan(from, to PlanStatus) bool {
	for _, next := range planTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionPlan applies a status change, rejecting illegal edges.
func (p *ManeuverPlan) Transition(to PlanStatus) error {
	if !CanTransitionPlan(p.Status, to) {
		return fmt.Errorf("illegal plan transition %s -> %s for plan %s", p.Status, to, p.ID)
	}
	p.Status = to
	return nil
}
