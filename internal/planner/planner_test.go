package planner

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/missionctl/core"
	"github.com/signalsfoundry/missionctl/model"
	"github.com/signalsfoundry/missionctl/timectrl"
)

func testConfig() Config {
	return Config{
		BurnAccelMs2: 0.5,
		MassKg:       450,
		IspSec:       220,
		LeadTime:     10 * time.Minute,
		Subsystem:    "thruster-main",
	}
}

func circularState(altKm float64) model.OrbitalState {
	elems := model.Elements{
		SemiMajorAxis: core.EarthRadiusKm + altKm,
		Eccentricity:  0.0001,
		Inclination:   0.9,
	}
	pos, vel := core.RVFromElements(elems)
	return model.OrbitalState{
		SatelliteID: "sat1",
		Epoch:       time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
		Elements:    elems,
		Position:    pos,
		Velocity:    vel,
		Attitude:    model.IdentityQuat(),
		Version:     1,
	}
}

func newTestPlanner(t *testing.T) *Planner {
	t.Helper()
	clock := timectrl.NewManual(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	p, err := New(testConfig(), NewPhysicsScorer(), clock, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// 400 km circular to 420 km circular under a 50 m/s budget: a two-burn
// Hohmann-style plan well inside the limit.
func TestPlanHohmannRaise(t *testing.T) {
	p := newTestPlanner(t)
	current := circularState(400)
	target := current.Elements
	target.SemiMajorAxis = core.EarthRadiusKm + 420

	constraints := model.Constraints{MaxDeltaVms: 50, MaxDuration: 1200 * time.Second}

	plan, err := p.Plan(context.Background(), current, target, constraints)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Segments) != 2 {
		t.Fatalf("got %d segments, want 2 (Hohmann)", len(plan.Segments))
	}
	if dv := plan.TotalDeltaV(); dv > 50 {
		t.Errorf("TotalDeltaV() = %.2f m/s, exceeds 50 m/s budget", dv)
	}
	// Both burns prograde for a raise.
	for i, seg := range plan.Segments {
		if seg.DeltaV.Y <= 0 {
			t.Errorf("segment %d delta-v transverse = %v, want prograde", i, seg.DeltaV.Y)
		}
	}
	if !plan.Segments[1].Start.After(plan.Segments[0].End()) {
		t.Error("second burn does not follow the transfer coast")
	}
}

// A target needing ~80 m/s under the same 50 m/s budget must be reported
// Infeasible, never downgraded.
func TestPlanInfeasibleDeltaV(t *testing.T) {
	p := newTestPlanner(t)
	current := circularState(400)
	target := current.Elements
	// Roughly 80 m/s of Hohmann delta-v corresponds to a ~145 km raise.
	target.SemiMajorAxis = core.EarthRadiusKm + 545

	dv1, dv2, _ := HohmannDeltaV(current.Elements.SemiMajorAxis, target.SemiMajorAxis)
	if total := dv1 + dv2; total < 60 || total > 100 {
		t.Fatalf("test setup: Hohmann delta-v = %.1f m/s, want ~80", total)
	}

	_, err := p.Plan(context.Background(), current, target,
		model.Constraints{MaxDeltaVms: 50, MaxDuration: 1200 * time.Second})
	if !errors.Is(err, ErrInfeasible) {
		t.Fatalf("Plan err = %v, want ErrInfeasible", err)
	}
}

func TestPlanKeepOutBand(t *testing.T) {
	p := newTestPlanner(t)
	current := circularState(400)
	target := current.Elements
	target.SemiMajorAxis = core.EarthRadiusKm + 420

	_, err := p.Plan(context.Background(), current, target, model.Constraints{
		MaxDeltaVms:   50,
		MaxAltitudeKm: 410, // transfer tops out at 420
	})
	if !errors.Is(err, ErrInfeasible) {
		t.Fatalf("Plan err = %v, want ErrInfeasible for keep-out violation", err)
	}
}

// Identical inputs and scorer must yield identical burn sequences.
func TestPlanDeterministic(t *testing.T) {
	p := newTestPlanner(t)
	current := circularState(400)
	target := current.Elements
	target.SemiMajorAxis = core.EarthRadiusKm + 420
	constraints := model.Constraints{MaxDeltaVms: 50}

	a, err := p.Plan(context.Background(), current, target, constraints)
	if err != nil {
		t.Fatalf("first Plan: %v", err)
	}
	b, err := p.Plan(context.Background(), current, target, constraints)
	if err != nil {
		t.Fatalf("second Plan: %v", err)
	}

	if len(a.Segments) != len(b.Segments) {
		t.Fatalf("segment counts differ: %d vs %d", len(a.Segments), len(b.Segments))
	}
	for i := range a.Segments {
		sa, sb := a.Segments[i], b.Segments[i]
		if !sa.Start.Equal(sb.Start) || sa.Duration != sb.Duration || sa.DeltaV != sb.DeltaV {
			t.Errorf("segment %d differs: %+v vs %+v", i, sa, sb)
		}
	}
}

func TestPlanPlaneChangeAtMatchedAltitude(t *testing.T) {
	p := newTestPlanner(t)
	current := circularState(500)
	target := current.Elements
	target.Inclination = current.Elements.Inclination + 0.01 // ~0.57 deg

	plan, err := p.Plan(context.Background(), current, target, model.Constraints{MaxDeltaVms: 200})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	v := math.Sqrt(core.MuEarth/current.Elements.SemiMajorAxis) * 1000
	want := 2 * v * math.Sin(0.005)
	if got := plan.TotalDeltaV(); math.Abs(got-want) > want*0.01 {
		t.Errorf("plane change delta-v = %.2f m/s, want ~%.2f", got, want)
	}
}

// A learned scorer is a black box: the planner must respect whatever
// ranking it returns.
type invertedScorer struct{}

func (invertedScorer) Score(plan *model.ManeuverPlan) (float64, map[string]float64) {
	// Prefer MORE fuel, to prove the planner follows the scorer.
	return -plan.TotalFuelKg(), nil
}

func TestPlannerFollowsInjectedScorer(t *testing.T) {
	clock := timectrl.NewManual(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	p, err := New(testConfig(), invertedScorer{}, clock, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	current := circularState(400)
	target := current.Elements
	target.SemiMajorAxis = core.EarthRadiusKm + 420
	target.Inclination = current.Elements.Inclination + 0.02

	plan, err := p.Plan(context.Background(), current, target, model.Constraints{MaxDeltaVms: 500})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	// Folding the plane change into the departure burn costs more than
	// folding it into the slower circularization burn, so the inverted
	// scorer must pick the departure fold.
	if len(plan.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(plan.Segments))
	}
	if plan.Segments[0].DeltaV.Z == 0 {
		t.Errorf("scorer preference ignored: first burn %+v stays in plane", plan.Segments[0].DeltaV)
	}
}

// A target that raises altitude and tilts the plane must not be served
// by an in-plane transfer: the winning plan carries an out-of-plane
// component that actually reaches the target inclination.
func TestPlanCombinedAltitudeAndInclination(t *testing.T) {
	p := newTestPlanner(t)
	current := circularState(400)
	target := current.Elements
	target.SemiMajorAxis = core.EarthRadiusKm + 420
	target.Inclination = current.Elements.Inclination + 0.005

	plan, err := p.Plan(context.Background(), current, target, model.Constraints{MaxDeltaVms: 100})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	var outOfPlane bool
	for _, seg := range plan.Segments {
		if seg.DeltaV.Z != 0 {
			outOfPlane = true
		}
	}
	if !outOfPlane {
		t.Fatalf("no out-of-plane burn for an inclination change: %+v", plan.Segments)
	}
	if got := plan.Target.Inclination; math.Abs(got-target.Inclination) > 1e-9 {
		t.Fatalf("plan target inclination = %v, want %v", got, target.Inclination)
	}
}
