// Package planner produces maneuver plans that move the spacecraft from
// its current orbit toward a target element set under hard constraints.
package planner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/signalsfoundry/missionctl/core"
	"github.com/signalsfoundry/missionctl/internal/logging"
	"github.com/signalsfoundry/missionctl/model"
	"github.com/signalsfoundry/missionctl/timectrl"

	"github.com/google/uuid"
)

var (
	// ErrInfeasible indicates no candidate satisfies every hard
	// constraint. This is reported, never downgraded to a violating plan.
	ErrInfeasible = errors.New("no feasible maneuver plan")
	// ErrBadTarget indicates the target element set failed validation.
	ErrBadTarget = errors.New("invalid target elements")
)

// Scorer ranks a candidate plan against soft objectives (fuel, time,
// risk). Implementations must be pure functions of the plan; the planner
// treats them as a black box, so a learned model can stand in.
type Scorer interface {
	Score(plan *model.ManeuverPlan) (cost float64, subScores map[string]float64)
}

// Config holds the spacecraft performance model used to size burns.
type Config struct {
	// BurnAccelMs2 is the effective thrust acceleration, converting
	// delta-v to burn duration.
	BurnAccelMs2 float64
	// MassKg is the spacecraft wet mass.
	MassKg float64
	// IspSec is the thruster specific impulse, for fuel estimates.
	IspSec float64
	// LeadTime is the gap between planning time and the first burn.
	LeadTime time.Duration
	// Subsystem names the thruster resource burns occupy.
	Subsystem string
}

// Validate rejects incomplete performance models.
func (c Config) Validate() error {
	if c.BurnAccelMs2 <= 0 {
		return fmt.Errorf("burn acceleration must be positive, got %f", c.BurnAccelMs2)
	}
	if c.MassKg <= 0 {
		return fmt.Errorf("spacecraft mass must be positive, got %f", c.MassKg)
	}
	if c.IspSec <= 0 {
		return fmt.Errorf("specific impulse must be positive, got %f", c.IspSec)
	}
	return nil
}

// Planner generates and ranks candidates. Deterministic given identical
// inputs and scorer outputs.
type Planner struct {
	cfg    Config
	scorer Scorer
	clock  timectrl.MissionClock
	log    logging.Logger
}

// New constructs a Planner with an injected scorer.
func New(cfg Config, scorer Scorer, clock timectrl.MissionClock, log logging.Logger) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if scorer == nil {
		return nil, fmt.Errorf("planner requires a scorer")
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Planner{cfg: cfg, scorer: scorer, clock: clock, log: log}, nil
}

// Plan returns the minimum-cost feasible plan for the transfer, or
// ErrInfeasible when every candidate violates a hard constraint. Ties
// break by earliest completion time, then lowest fuel cost.
func (p *Planner) Plan(ctx context.Context, current model.OrbitalState, target model.Elements, constraints model.Constraints) (*model.ManeuverPlan, error) {
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadTarget, err)
	}
	if err := current.Validate(); err != nil {
		return nil, fmt.Errorf("plan from invalid state: %w", err)
	}

	candidates := p.candidates(current, target, constraints)

	feasible := make([]*model.ManeuverPlan, 0, len(candidates))
	for _, c := range candidates {
		if reason := violatesHard(c, current.Elements, constraints); reason != "" {
			p.log.Debug(ctx, "candidate discarded",
				logging.String("plan_id", c.ID),
				logging.String("reason", reason),
			)
			continue
		}
		feasible = append(feasible, c)
	}
	if len(feasible) == 0 {
		return nil, fmt.Errorf("%w: %d candidates generated, none satisfy constraints", ErrInfeasible, len(candidates))
	}

	type scored struct {
		plan *model.ManeuverPlan
		cost float64
	}
	ranked := make([]scored, 0, len(feasible))
	for _, c := range feasible {
		cost, sub := p.scorer.Score(c)
		p.log.Debug(ctx, "candidate scored",
			logging.String("plan_id", c.ID),
			logging.Any("cost", cost),
			logging.Any("sub_scores", sub),
		)
		ranked = append(ranked, scored{plan: c, cost: cost})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].cost != ranked[j].cost {
			return ranked[i].cost < ranked[j].cost
		}
		ci, cj := ranked[i].plan.CompletionTime(), ranked[j].plan.CompletionTime()
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return ranked[i].plan.TotalFuelKg() < ranked[j].plan.TotalFuelKg()
	})

	best := ranked[0].plan
	best.Status = model.PlanDraft
	return best, nil
}

// violatesHard names the violated hard constraint, or returns "" for a
// feasible candidate. The transfer stays between the departure and
// target radii, so the keep-out band is checked against that range.
func violatesHard(plan *model.ManeuverPlan, from model.Elements, c model.Constraints) string {
	if c.MaxDeltaVms > 0 && plan.TotalDeltaV() > c.MaxDeltaVms {
		return fmt.Sprintf("total delta-v %.2f m/s exceeds limit %.2f m/s", plan.TotalDeltaV(), c.MaxDeltaVms)
	}
	if c.MaxDuration > 0 && burnDuration(plan) > c.MaxDuration {
		return fmt.Sprintf("burn time %s exceeds limit %s", burnDuration(plan), c.MaxDuration)
	}
	if c.MinAltitudeKm > 0 || c.MaxAltitudeKm > 0 {
		lo := math.Min(from.SemiMajorAxis, plan.Target.SemiMajorAxis) - core.EarthRadiusKm
		hi := math.Max(from.SemiMajorAxis, plan.Target.SemiMajorAxis) - core.EarthRadiusKm
		if c.MinAltitudeKm > 0 && lo < c.MinAltitudeKm {
			return fmt.Sprintf("transfer perigee altitude %.1f km below keep-out floor %.1f km", lo, c.MinAltitudeKm)
		}
		if c.MaxAltitudeKm > 0 && hi > c.MaxAltitudeKm {
			return fmt.Sprintf("transfer apogee altitude %.1f km above keep-out ceiling %.1f km", hi, c.MaxAltitudeKm)
		}
	}
	return ""
}

// burnDuration is the cumulative thrust-on time. MaxDuration bounds
// thrusting, not the coast between burns.
func burnDuration(plan *model.ManeuverPlan) time.Duration {
	var total time.Duration
	for _, s := range plan.Segments {
		total += s.Duration
	}
	return total
}

// candidates enumerates maneuver shapes for the transfer. Generation
// order is fixed so planning is reproducible.
func (p *Planner) candidates(current model.OrbitalState, target model.Elements, constraints model.Constraints) []*model.ManeuverPlan {
	var out []*model.ManeuverPlan

	start := p.clock.Now().Add(p.cfg.LeadTime)

	if hohmann := p.hohmannCandidate(current, target, start, constraints); hohmann != nil {
		out = append(out, hohmann)
	}
	if combined := p.planeChangeCandidate(current, target, start, constraints); combined != nil {
		out = append(out, combined)
	}
	if depart := p.planeChangeDepartCandidate(current, target, start, constraints); depart != nil {
		out = append(out, depart)
	}
	if phasing := p.phasingCandidate(current, target, start, constraints); phasing != nil {
		out = append(out, phasing)
	}
	return out
}

// hohmannCandidate sizes the classic two-burn transfer between
// near-circular orbits at different semi-major axes. Both burns stay in
// plane, so the shape only applies when the target keeps the current
// inclination.
func (p *Planner) hohmannCandidate(current model.OrbitalState, target model.Elements, start time.Time, constraints model.Constraints) *model.ManeuverPlan {
	if math.Abs(angleDiff(target.Inclination, current.Elements.Inclination)) > 1e-6 {
		return nil
	}
	r1 := current.Elements.SemiMajorAxis
	r2 := target.SemiMajorAxis
	if math.Abs(r2-r1) < 1e-3 {
		return nil // no altitude change to make
	}

	dv1, dv2, transfer := HohmannDeltaV(r1, r2)

	sign := 1.0
	if r2 < r1 {
		sign = -1
	}
	seg1 := p.segment(start, model.Vec3{Y: sign * dv1})
	seg2Start := seg1.End().Add(transfer)
	seg2 := p.segment(seg2Start, model.Vec3{Y: sign * dv2})

	return p.newPlan(current.SatelliteID, target, constraints, []model.BurnSegment{seg1, seg2})
}

// planeChangeCandidate extends the Hohmann shape with an inclination
// correction folded into the second burn, where velocity is lowest.
func (p *Planner) planeChangeCandidate(current model.OrbitalState, target model.Elements, start time.Time, constraints model.Constraints) *model.ManeuverPlan {
	di := math.Abs(angleDiff(target.Inclination, current.Elements.Inclination))
	if di < 1e-6 {
		return nil
	}

	r1 := current.Elements.SemiMajorAxis
	r2 := target.SemiMajorAxis
	if math.Abs(r2-r1) < 1e-3 {
		// Pure plane change at current altitude; the vector has norm
		// 2*v*sin(di/2).
		v := circularVelocityMs(r1)
		seg := p.segment(start, model.Vec3{Y: v * (math.Cos(di) - 1), Z: v * math.Sin(di)})
		return p.newPlan(current.SatelliteID, target, constraints, []model.BurnSegment{seg})
	}

	dv1, _, transfer := HohmannDeltaV(r1, r2)
	// Fold the plane change into the circularization burn, where
	// velocity is lowest: vector difference between the transfer-orbit
	// arrival velocity and the inclined target circular velocity.
	vt := visVivaMs(r2, (r1+r2)/2)
	v2 := circularVelocityMs(r2)

	sign := 1.0
	if r2 < r1 {
		sign = -1
	}
	seg1 := p.segment(start, model.Vec3{Y: sign * dv1})
	seg2 := p.segment(seg1.End().Add(transfer), model.Vec3{Y: v2*math.Cos(di) - vt, Z: v2 * math.Sin(di)})
	return p.newPlan(current.SatelliteID, target, constraints, []model.BurnSegment{seg1, seg2})
}

// planeChangeDepartCandidate folds the inclination correction into the
// first burn instead of the circularization. Costlier at the lower,
// faster orbit, but the transfer coasts in the target plane.
func (p *Planner) planeChangeDepartCandidate(current model.OrbitalState, target model.Elements, start time.Time, constraints model.Constraints) *model.ManeuverPlan {
	di := math.Abs(angleDiff(target.Inclination, current.Elements.Inclination))
	if di < 1e-6 {
		return nil
	}
	r1 := current.Elements.SemiMajorAxis
	r2 := target.SemiMajorAxis
	if math.Abs(r2-r1) < 1e-3 {
		return nil // matched altitude is planeChangeCandidate's case
	}

	v1 := circularVelocityMs(r1)
	vt1 := visVivaMs(r1, (r1+r2)/2)
	_, dv2, transfer := HohmannDeltaV(r1, r2)

	sign := 1.0
	if r2 < r1 {
		sign = -1
	}
	seg1 := p.segment(start, model.Vec3{Y: vt1*math.Cos(di) - v1, Z: vt1 * math.Sin(di)})
	seg2 := p.segment(seg1.End().Add(transfer), model.Vec3{Y: sign * dv2})
	return p.newPlan(current.SatelliteID, target, constraints, []model.BurnSegment{seg1, seg2})
}

// phasingCandidate closes a mean-anomaly offset at matched altitude with
// a one-revolution phasing orbit. The burns stay in plane, so the shape
// requires the target inclination to match as well.
func (p *Planner) phasingCandidate(current model.OrbitalState, target model.Elements, start time.Time, constraints model.Constraints) *model.ManeuverPlan {
	if math.Abs(target.SemiMajorAxis-current.Elements.SemiMajorAxis) > 1e-3 {
		return nil
	}
	if math.Abs(angleDiff(target.Inclination, current.Elements.Inclination)) > 1e-6 {
		return nil
	}
	dM := angleDiff(target.MeanAnomaly, current.Elements.MeanAnomaly)
	if math.Abs(dM) < 1e-6 {
		return nil
	}

	a := current.Elements.SemiMajorAxis
	period := 2 * math.Pi / core.MeanMotion(a)
	// Phasing orbit whose period differs by the fraction of a revolution
	// to recover, closed in one rev.
	phasePeriod := period * (1 - dM/(2*math.Pi))
	aPhase := math.Cbrt(core.MuEarth * math.Pow(phasePeriod/(2*math.Pi), 2))

	v := circularVelocityMs(a)
	vPhase := visVivaMs(a, aPhase)

	seg1 := p.segment(start, model.Vec3{Y: vPhase - v})
	seg2 := p.segment(seg1.End().Add(time.Duration(phasePeriod*float64(time.Second))), model.Vec3{Y: v - vPhase})
	return p.newPlan(current.SatelliteID, target, constraints, []model.BurnSegment{seg1, seg2})
}

// segment converts a delta-v vector into a burn with duration and fuel
// from the performance model.
func (p *Planner) segment(start time.Time, deltaV model.Vec3) model.BurnSegment {
	mag := deltaV.Norm()
	duration := time.Duration(mag / p.cfg.BurnAccelMs2 * float64(time.Second))
	if duration < time.Second {
		duration = time.Second
	}
	const g0 = 9.80665
	fuel := p.cfg.MassKg * (1 - math.Exp(-mag/(p.cfg.IspSec*g0)))
	return model.BurnSegment{
		Start:     start,
		Duration:  duration,
		DeltaV:    deltaV,
		FuelKg:    fuel,
		Subsystem: p.cfg.Subsystem,
	}
}

func (p *Planner) newPlan(satelliteID string, target model.Elements, constraints model.Constraints, segments []model.BurnSegment) *model.ManeuverPlan {
	return &model.ManeuverPlan{
		ID:          uuid.NewString(),
		SatelliteID: satelliteID,
		Segments:    segments,
		Target:      target.Normalize(),
		Constraints: constraints,
		Status:      model.PlanDraft,
		CreatedAt:   p.clock.Now(),
	}
}

// HohmannDeltaV returns the two burn magnitudes in m/s and the coast
// time between them for a transfer between circular orbits of radius r1
// and r2 km.
func HohmannDeltaV(r1, r2 float64) (dv1, dv2 float64, transfer time.Duration) {
	v1 := circularVelocityMs(r1)
	v2 := circularVelocityMs(r2)
	at := (r1 + r2) / 2

	dv1 = math.Abs(v1 * (math.Sqrt(2*r2/(r1+r2)) - 1))
	dv2 = math.Abs(v2 * (1 - math.Sqrt(2*r1/(r1+r2))))

	halfPeriod := math.Pi * math.Sqrt(at*at*at/core.MuEarth)
	return dv1, dv2, time.Duration(halfPeriod * float64(time.Second))
}

func circularVelocityMs(rKm float64) float64 {
	return math.Sqrt(core.MuEarth/rKm) * 1000
}

// visVivaMs is the speed at radius r on an orbit of semi-major axis a,
// both km, in m/s.
func visVivaMs(rKm, aKm float64) float64 {
	return math.Sqrt(core.MuEarth*(2/rKm-1/aKm)) * 1000
}

// angleDiff returns the signed smallest difference a-b in (-pi, pi].
func angleDiff(a, b float64) float64 {
	d := math.Mod(a-b, 2*math.Pi)
	if d > math.Pi {
		d -= 2 * math.Pi
	}
	if d <= -math.Pi {
		d += 2 * math.Pi
	}
	return d
}
