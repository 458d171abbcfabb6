package planner

import (
	"github.com/signalsfoundry/missionctl/model"
)

// PhysicsScorer is the reference cost function: a weighted sum of fuel
// and wall-clock duration. It stands in wherever a learned maneuver
// scorer is not injected, and keeps planning fully deterministic for
// golden-output tests.
type PhysicsScorer struct {
	// FuelWeight scales the fuel sub-score (kg).
	FuelWeight float64
	// TimeWeight scales the duration sub-score (hours).
	TimeWeight float64
}

// NewPhysicsScorer returns a scorer weighing fuel heavily and time
// lightly, the usual station-keeping preference.
func NewPhysicsScorer() *PhysicsScorer {
	return &PhysicsScorer{FuelWeight: 1.0, TimeWeight: 0.1}
}

// Score implements Scorer.
func (s *PhysicsScorer) Score(plan *model.ManeuverPlan) (float64, map[string]float64) {
	fuel := plan.TotalFuelKg()
	hours := plan.Duration().Hours()

	sub := map[string]float64{
		"fuel_kg":        fuel,
		"duration_hours": hours,
		"delta_v_ms":     plan.TotalDeltaV(),
	}
	return s.FuelWeight*fuel + s.TimeWeight*hours, sub
}
