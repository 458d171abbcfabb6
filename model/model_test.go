package model

import (
	"math"
	"testing"
	"time"
)

func TestNormalizeAngle(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{0, 0},
		{math.Pi, math.Pi},
		{2 * math.Pi, 0},
		{-math.Pi / 2, 3 * math.Pi / 2},
		{5 * math.Pi, math.Pi},
	}
	for _, c := range cases {
		if got := NormalizeAngle(c.in); math.Abs(got-c.want) > 1e-12 {
			t.Errorf("NormalizeAngle(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestElementsValidate(t *testing.T) {
	good := Elements{SemiMajorAxis: 6771, Eccentricity: 0.001}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	if err := (Elements{SemiMajorAxis: 6771, Eccentricity: 1.0}).Validate(); err == nil {
		t.Fatal("Validate() accepted eccentricity 1.0")
	}
	if err := (Elements{SemiMajorAxis: -1, Eccentricity: 0}).Validate(); err == nil {
		t.Fatal("Validate() accepted negative semi-major axis")
	}
}

func TestOrbitalStateValidateQuaternion(t *testing.T) {
	state := OrbitalState{
		SatelliteID: "sat1",
		Epoch:       time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		Elements:    Elements{SemiMajorAxis: 6771, Eccentricity: 0.0001},
		Attitude:    Quaternion{W: 0.5, X: 0.5, Y: 0.5, Z: 0.5},
	}
	if err := state.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	state.Attitude = Quaternion{W: 0.9}
	if err := state.Validate(); err == nil {
		t.Fatal("Validate() accepted non-unit quaternion")
	}
}

func TestCommandTransitions(t *testing.T) {
	cmd := &Command{ID: "cmd1", Status: CommandPending}

	forward := []CommandStatus{
		CommandValidated, CommandAuthorized, CommandScheduled,
		CommandTransmitted, CommandAcknowledged,
	}
	for _, next := range forward {
		if err := cmd.Transition(next); err != nil {
			t.Fatalf("Transition(%s) = %v, want nil", next, err)
		}
	}

	if err := cmd.Transition(CommandPending); err == nil {
		t.Fatal("Transition out of ACKNOWLEDGED succeeded, want error")
	}
}

func TestCommandRetryEdge(t *testing.T) {
	cmd := &Command{ID: "cmd1", Status: CommandFailed}
	if err := cmd.Transition(CommandPending); err != nil {
		t.Fatalf("Failed -> Pending retry edge rejected: %v", err)
	}
	if err := cmd.Transition(CommandTransmitted); err == nil {
		t.Fatal("Pending -> Transmitted succeeded, want error")
	}
}

func TestPlanTransitions(t *testing.T) {
	p := &ManeuverPlan{ID: "plan1", Status: PlanDraft}
	if err := p.Transition(PlanExecuting); err == nil {
		t.Fatal("Draft -> Executing succeeded, want error")
	}
	for _, next := range []PlanStatus{PlanValidated, PlanScheduled, PlanExecuting, PlanCompleted} {
		if err := p.Transition(next); err != nil {
			t.Fatalf("Transition(%s) = %v, want nil", next, err)
		}
	}
	if !p.Status.Terminal() {
		t.Fatalf("Completed.Terminal() = false, want true")
	}
}

func TestPlanTotals(t *testing.T) {
	start := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	p := &ManeuverPlan{
		Segments: []BurnSegment{
			{Start: start, Duration: 30 * time.Second, DeltaV: Vec3{X: 3}, FuelKg: 1.2},
			{Start: start.Add(45 * time.Minute), Duration: 30 * time.Second, DeltaV: Vec3{X: 4}, FuelKg: 1.6},
		},
	}
	if got := p.TotalDeltaV(); math.Abs(got-7) > 1e-9 {
		t.Errorf("TotalDeltaV() = %v, want 7", got)
	}
	if got := p.TotalFuelKg(); math.Abs(got-2.8) > 1e-9 {
		t.Errorf("TotalFuelKg() = %v, want 2.8", got)
	}
	wantEnd := start.Add(45*time.Minute + 30*time.Second)
	if got := p.CompletionTime(); !got.Equal(wantEnd) {
		t.Errorf("CompletionTime() = %v, want %v", got, wantEnd)
	}
}

func TestOverlaps(t *testing.T) {
	base := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	at := func(m int) time.Time { return base.Add(time.Duration(m) * time.Minute) }

	if !Overlaps(at(0), at(10), at(5), at(15)) {
		t.Error("expected overlap for intersecting ranges")
	}
	if Overlaps(at(0), at(10), at(10), at(20)) {
		t.Error("adjacent ranges must not overlap")
	}
}
