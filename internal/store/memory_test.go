package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/missionctl/model"
)

var t0 = time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)

func TestMemoryStoreStateKeepsNewestVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.LatestState(ctx, "sat-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LatestState(empty) = %v, want ErrNotFound", err)
	}

	if err := s.SaveState(ctx, model.OrbitalState{SatelliteID: "sat-1", Version: 5, Epoch: t0}); err != nil {
		t.Fatalf("SaveState(v5) = %v", err)
	}
	// A stale snapshot must not clobber a newer one.
	if err := s.SaveState(ctx, model.OrbitalState{SatelliteID: "sat-1", Version: 3, Epoch: t0.Add(-time.Minute)}); err != nil {
		t.Fatalf("SaveState(v3) = %v", err)
	}
	got, err := s.LatestState(ctx, "sat-1")
	if err != nil {
		t.Fatalf("LatestState() = %v", err)
	}
	if got.Version != 5 {
		t.Fatalf("Version = %d, want 5", got.Version)
	}
}

func TestMemoryStoreOpenFiltersTerminal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	plans := []model.ManeuverPlan{
		{ID: "plan-a", Status: model.PlanExecuting},
		{ID: "plan-b", Status: model.PlanCompleted},
		{ID: "plan-c", Status: model.PlanAborted},
	}
	for _, p := range plans {
		if err := s.SavePlan(ctx, p); err != nil {
			t.Fatalf("SavePlan(%s) = %v", p.ID, err)
		}
	}
	open, err := s.OpenPlans(ctx)
	if err != nil {
		t.Fatalf("OpenPlans() = %v", err)
	}
	if len(open) != 1 || open[0].ID != "plan-a" {
		t.Fatalf("OpenPlans() = %v, want exactly plan-a", open)
	}

	cmds := []model.Command{
		{ID: "cmd-a", Status: model.CommandTransmitted},
		{ID: "cmd-b", Status: model.CommandAcknowledged},
		{ID: "cmd-c", Status: model.CommandExpired},
		{ID: "cmd-d", Status: model.CommandFailed},
	}
	for _, c := range cmds {
		if err := s.SaveCommand(ctx, c); err != nil {
			t.Fatalf("SaveCommand(%s) = %v", c.ID, err)
		}
	}
	openCmds, err := s.OpenCommands(ctx)
	if err != nil {
		t.Fatalf("OpenCommands() = %v", err)
	}
	if len(openCmds) != 2 {
		t.Fatalf("OpenCommands() = %d commands, want 2", len(openCmds))
	}
	if openCmds[0].ID != "cmd-a" || openCmds[1].ID != "cmd-d" {
		t.Fatalf("OpenCommands() = %v, want cmd-a and cmd-d", openCmds)
	}
}

func TestMemoryStoreReservations(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	r1 := model.Reservation{WindowID: "win-1", CommandID: "cmd-a", Start: t0, End: t0.Add(time.Minute)}
	r2 := model.Reservation{WindowID: "win-1", CommandID: "cmd-b", Start: t0.Add(2 * time.Minute), End: t0.Add(3 * time.Minute)}
	for _, r := range []model.Reservation{r1, r2} {
		if err := s.SaveReservation(ctx, r); err != nil {
			t.Fatalf("SaveReservation() = %v", err)
		}
	}
	got, err := s.Reservations(ctx)
	if err != nil {
		t.Fatalf("Reservations() = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Reservations() = %d, want 2", len(got))
	}

	if err := s.DeleteReservation(ctx, "win-1", "cmd-a"); err != nil {
		t.Fatalf("DeleteReservation() = %v", err)
	}
	got, err = s.Reservations(ctx)
	if err != nil {
		t.Fatalf("Reservations() = %v", err)
	}
	if len(got) != 1 || got[0].CommandID != "cmd-b" {
		t.Fatalf("Reservations() after delete = %v, want only cmd-b", got)
	}
}
