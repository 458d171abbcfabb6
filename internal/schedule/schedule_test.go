package schedule

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/missionctl/model"
)

func testWindow(id string, start time.Time, length time.Duration) model.ContactWindow {
	return model.ContactWindow{
		ID:              id,
		StationID:       "gs1",
		Start:           start,
		End:             start.Add(length),
		MaxElevationDeg: 45,
	}
}

func TestReserveAndConflict(t *testing.T) {
	start := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	s := NewContactSchedule()
	if err := s.AddWindow(testWindow("w1", start, 10*time.Minute)); err != nil {
		t.Fatalf("AddWindow: %v", err)
	}

	if _, err := s.Reserve("w1", "cmd1", start, start.Add(2*time.Minute)); err != nil {
		t.Fatalf("first Reserve: %v", err)
	}

	_, err := s.Reserve("w1", "cmd2", start.Add(time.Minute), start.Add(3*time.Minute))
	if !errors.Is(err, ErrWindowConflict) {
		t.Fatalf("overlapping Reserve err = %v, want ErrWindowConflict", err)
	}

	// Adjacent range is fine.
	if _, err := s.Reserve("w1", "cmd3", start.Add(2*time.Minute), start.Add(4*time.Minute)); err != nil {
		t.Fatalf("adjacent Reserve: %v", err)
	}
}

func TestReserveOutsideWindow(t *testing.T) {
	start := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	s := NewContactSchedule()
	if err := s.AddWindow(testWindow("w1", start, 5*time.Minute)); err != nil {
		t.Fatalf("AddWindow: %v", err)
	}

	_, err := s.Reserve("w1", "cmd1", start.Add(4*time.Minute), start.Add(6*time.Minute))
	if !errors.Is(err, ErrOutsideWindow) {
		t.Fatalf("err = %v, want ErrOutsideWindow", err)
	}

	_, err = s.Reserve("nope", "cmd1", start, start.Add(time.Minute))
	if !errors.Is(err, ErrWindowNotFound) {
		t.Fatalf("err = %v, want ErrWindowNotFound", err)
	}
}

// Two concurrent reservations for the same overlapping range: exactly
// one must win, the other must fail with ErrWindowConflict.
func TestConcurrentReserveExactlyOneWins(t *testing.T) {
	start := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)

	for iter := 0; iter < 100; iter++ {
		s := NewContactSchedule()
		if err := s.AddWindow(testWindow("w1", start, 10*time.Minute)); err != nil {
			t.Fatalf("AddWindow: %v", err)
		}

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.Reserve("w1", "cmd", start, start.Add(time.Minute))
			}(i)
		}
		wg.Wait()

		var wins, conflicts int
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrWindowConflict):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if wins != 1 || conflicts != 1 {
			t.Fatalf("wins = %d, conflicts = %d, want 1 and 1", wins, conflicts)
		}
	}
}

func TestReleaseFreesCapacity(t *testing.T) {
	start := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	s := NewContactSchedule()
	if err := s.AddWindow(testWindow("w1", start, 10*time.Minute)); err != nil {
		t.Fatalf("AddWindow: %v", err)
	}

	if _, err := s.Reserve("w1", "cmd1", start, start.Add(2*time.Minute)); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	s.Release("w1", "cmd1")

	if _, err := s.Reserve("w1", "cmd2", start, start.Add(2*time.Minute)); err != nil {
		t.Fatalf("Reserve after Release: %v", err)
	}
}

func TestRestoreDropsUnknownWindows(t *testing.T) {
	start := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	s := NewContactSchedule()
	if err := s.AddWindow(testWindow("w1", start, 10*time.Minute)); err != nil {
		t.Fatalf("AddWindow: %v", err)
	}

	s.Restore([]model.Reservation{
		{WindowID: "w1", CommandID: "cmd1", Start: start, End: start.Add(time.Minute)},
		{WindowID: "gone", CommandID: "cmd2", Start: start, End: start.Add(time.Minute)},
	})

	got := s.Reservations()
	if len(got) != 1 || got[0].CommandID != "cmd1" {
		t.Fatalf("Reservations() = %+v, want only cmd1 in w1", got)
	}
}

func TestUpcomingOrdering(t *testing.T) {
	base := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	s := NewContactSchedule()
	for _, w := range []model.ContactWindow{
		testWindow("late", base.Add(time.Hour), 10*time.Minute),
		testWindow("early", base, 10*time.Minute),
		testWindow("past", base.Add(-time.Hour), 10*time.Minute),
	} {
		if err := s.AddWindow(w); err != nil {
			t.Fatalf("AddWindow(%s): %v", w.ID, err)
		}
	}

	got := s.Upcoming(base.Add(5 * time.Minute))
	if len(got) != 2 || got[0].ID != "early" || got[1].ID != "late" {
		ids := make([]string, len(got))
		for i, w := range got {
			ids[i] = w.ID
		}
		t.Fatalf("Upcoming() = %v, want [early late]", ids)
	}
}
