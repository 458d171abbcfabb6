package timectrl

import (
	"sync"
	"time"
)

// MissionClock is the single source of mission time. Every component
// that compares times (planner, pipeline, scheduler) consults the same
// clock, so there are no skew races between flows.
type MissionClock interface {
	// Now returns the current mission time. Successive calls never go
	// backward.
	Now() time.Time
}

// Mode describes how the MissionTimer advances mission time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances mission time faster than wall time by the
	// Acceleration factor, still stepping by Tick.
	Accelerated
)

// MissionTimer drives mission time and notifies registered listeners on
// every tick. It implements MissionClock.
type MissionTimer struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode
	// Acceleration is the mission-to-wall time ratio in Accelerated
	// mode. Values below 1 are treated as 1.
	Acceleration float64

	currentTime time.Time

	listeners []func(time.Time)
}

// NewMissionTimer constructs a timer starting at the mission epoch.
func NewMissionTimer(start time.Time, tick time.Duration, mode Mode) *MissionTimer {
	return &MissionTimer{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current mission time. Implements MissionClock.
func (mt *MissionTimer) Now() time.Time {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.currentTime
}

// SetTime jumps mission time forward, e.g. when resuming from a persisted
// snapshot. Attempts to move backward are ignored: mission time is
// monotonic.
func (mt *MissionTimer) SetTime(t time.Time) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if t.After(mt.currentTime) {
		mt.currentTime = t
	}
}

// AddListener registers a callback invoked on every tick with the new
// mission time. Register listeners before calling Start.
func (mt *MissionTimer) AddListener(fn func(time.Time)) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.listeners = append(mt.listeners, fn)
}

// Start runs the timer for the specified duration in a separate
// goroutine (forever when duration is zero). It returns a channel that
// is closed when the timer finishes.
func (mt *MissionTimer) Start(duration time.Duration, stop <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		elapsed := time.Duration(0)

		interval := mt.Tick
		if mt.Mode == Accelerated {
			accel := mt.Acceleration
			if accel < 1 {
				accel = 1
			}
			interval = time.Duration(float64(mt.Tick) / accel)
			// Floor the real interval so extreme factors do not turn the
			// loop into a busy spin.
			if interval < time.Millisecond {
				interval = time.Millisecond
			}
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if duration > 0 && elapsed >= duration {
				return
			}

			select {
			case <-ticker.C:
			case <-stop:
				return
			}
			elapsed += mt.Tick

			mt.mu.Lock()
			mt.currentTime = mt.currentTime.Add(mt.Tick)
			now := mt.currentTime
			listeners := mt.listeners
			mt.mu.Unlock()

			for _, fn := range listeners {
				fn(now)
			}
		}
	}()
	return done
}

// Manual is a hand-stepped clock for tests and one-shot planning runs.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a manual clock fixed at start.
func NewManual(start time.Time) *Manual { return &Manual{now: start} }

// Now implements MissionClock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.now = m.now.Add(d)
	}
	return m.now
}
