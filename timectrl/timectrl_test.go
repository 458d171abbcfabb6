package timectrl

import (
	"testing"
	"time"
)

func TestMissionTimerSetTime(t *testing.T) {
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	mt := NewMissionTimer(start, time.Second, RealTime)

	forward := start.Add(42 * time.Second)
	mt.SetTime(forward)
	if got := mt.Now(); !got.Equal(forward) {
		t.Fatalf("Now() = %v, want %v", got, forward)
	}

	// Backward jumps are ignored: mission time is monotonic.
	mt.SetTime(start)
	if got := mt.Now(); !got.Equal(forward) {
		t.Fatalf("Now() after backward SetTime = %v, want %v", got, forward)
	}
}

func TestMissionTimerStartUpdatesNow(t *testing.T) {
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	mt := NewMissionTimer(start, 5*time.Millisecond, Accelerated)

	stop := make(chan struct{})
	done := mt.Start(15*time.Millisecond, stop)
	<-done

	expected := start.Add(15 * time.Millisecond)
	if got := mt.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
}

func TestMissionTimerListeners(t *testing.T) {
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	mt := NewMissionTimer(start, time.Millisecond, Accelerated)

	var ticks []time.Time
	mt.AddListener(func(now time.Time) { ticks = append(ticks, now) })

	stop := make(chan struct{})
	<-mt.Start(3*time.Millisecond, stop)

	if len(ticks) != 3 {
		t.Fatalf("listener fired %d times, want 3", len(ticks))
	}
	for i := 1; i < len(ticks); i++ {
		if !ticks[i].After(ticks[i-1]) {
			t.Fatalf("tick %d (%v) not after tick %d (%v)", i, ticks[i], i-1, ticks[i-1])
		}
	}
}

func TestMissionTimerAcceleratedOutpacesWall(t *testing.T) {
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	mt := NewMissionTimer(start, 100*time.Millisecond, Accelerated)
	mt.Acceleration = 50 // 2ms of wall time per 100ms mission tick

	begin := time.Now()
	stop := make(chan struct{})
	<-mt.Start(2*time.Second, stop)
	wall := time.Since(begin)

	if got := mt.Now(); !got.Equal(start.Add(2 * time.Second)) {
		t.Fatalf("Now() = %v, want %v", got, start.Add(2*time.Second))
	}
	if wall >= 2*time.Second {
		t.Fatalf("accelerated run took %v of wall time for 2s of mission time", wall)
	}
}

func TestManualClock(t *testing.T) {
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)
	if got := m.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}
	m.Advance(time.Minute)
	if got := m.Now(); !got.Equal(start.Add(time.Minute)) {
		t.Fatalf("Now() after Advance = %v, want %v", got, start.Add(time.Minute))
	}
	m.Advance(-time.Hour)
	if got := m.Now(); !got.Equal(start.Add(time.Minute)) {
		t.Fatalf("negative Advance moved the clock: %v", got)
	}
}
