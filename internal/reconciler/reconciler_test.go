package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/missionctl/model"
)

var t0 = time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)

func testReconcilerConfig() Config {
	return Config{
		ReorderWindow:    10 * time.Second,
		BufferLimit:      16,
		AnomalyThreshold: 0.85,
		HistorySize:      8,
	}
}

// orderedOrbit records delivery order and fails the test on regression.
type orderedOrbit struct {
	mu        sync.Mutex
	delivered []model.TelemetrySample
}

func (o *orderedOrbit) Reconcile(_ context.Context, s model.TelemetrySample) (model.OrbitalState, float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delivered = append(o.delivered, s)
	return model.OrbitalState{}, 1.5, nil
}

func (o *orderedOrbit) timestamps() []time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]time.Time, len(o.delivered))
	for i, s := range o.delivered {
		out[i] = s.Timestamp
	}
	return out
}

type quietScorer struct{}

func (quietScorer) Score(model.TelemetrySample, []model.TelemetrySample) Verdict { return Verdict{} }

// fixedScorer flags every sample with a fixed confidence.
type fixedScorer struct {
	confidence float64
}

func (f fixedScorer) Score(model.TelemetrySample, []model.TelemetrySample) Verdict {
	return Verdict{Anomaly: true, Confidence: f.confidence, Type: "thermal_excursion", Subsystem: "thruster-main"}
}

type captureSink struct {
	mu      sync.Mutex
	samples []model.TelemetrySample
}

func (c *captureSink) Append(_ context.Context, s model.TelemetrySample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
	return nil
}

func sample(ts time.Time) model.TelemetrySample {
	return model.TelemetrySample{
		SatelliteID: "sat-1",
		Timestamp:   ts,
		Channels:    map[string]float64{"battery_v": 28.1},
	}
}

func TestReorderWithinWindow(t *testing.T) {
	orbit := &orderedOrbit{}
	r, err := New(testReconcilerConfig(), orbit, quietScorer{}, nil, nil)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	ctx := context.Background()

	// Arrival order 0s, 4s, 2s; timestamp order must win.
	for _, off := range []time.Duration{0, 4 * time.Second, 2 * time.Second} {
		if err := r.Ingest(ctx, sample(t0.Add(off))); err != nil {
			t.Fatalf("Ingest(+%v) = %v", off, err)
		}
	}
	r.Flush(ctx)

	got := orbit.timestamps()
	want := []time.Time{t0, t0.Add(2 * time.Second), t0.Add(4 * time.Second)}
	if len(got) != len(want) {
		t.Fatalf("delivered %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("delivery[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWindowElapsedReleasesOldSamples(t *testing.T) {
	orbit := &orderedOrbit{}
	r, err := New(testReconcilerConfig(), orbit, quietScorer{}, nil, nil)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	ctx := context.Background()

	if err := r.Ingest(ctx, sample(t0)); err != nil {
		t.Fatalf("Ingest(t0) = %v", err)
	}
	if n := len(orbit.timestamps()); n != 0 {
		t.Fatalf("delivered %d before window elapsed, want 0", n)
	}

	// A sample a full window ahead releases the first one.
	if err := r.Ingest(ctx, sample(t0.Add(10*time.Second))); err != nil {
		t.Fatalf("Ingest(t0+10s) = %v", err)
	}
	got := orbit.timestamps()
	if len(got) != 1 || !got[0].Equal(t0) {
		t.Fatalf("delivered = %v, want exactly [t0]", got)
	}
}

func TestLateArrivalDropped(t *testing.T) {
	orbit := &orderedOrbit{}
	r, err := New(testReconcilerConfig(), orbit, quietScorer{}, nil, nil)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	ctx := context.Background()

	if err := r.Ingest(ctx, sample(t0.Add(30*time.Second))); err != nil {
		t.Fatalf("Ingest() = %v", err)
	}
	r.Flush(ctx)

	err = r.Ingest(ctx, sample(t0))
	if !errors.Is(err, ErrLateArrival) {
		t.Fatalf("Ingest(stale) = %v, want ErrLateArrival", err)
	}
	r.Flush(ctx)
	if n := len(orbit.timestamps()); n != 1 {
		t.Fatalf("delivered %d samples, want 1 (late one dropped)", n)
	}
}

func TestBufferOverflowForcesDelivery(t *testing.T) {
	cfg := testReconcilerConfig()
	cfg.BufferLimit = 3
	cfg.ReorderWindow = time.Hour // never elapses in this test
	orbit := &orderedOrbit{}
	r, err := New(cfg, orbit, quietScorer{}, nil, nil)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := r.Ingest(ctx, sample(t0.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Ingest(%d) = %v", i, err)
		}
	}
	got := orbit.timestamps()
	if len(got) != 1 || !got[0].Equal(t0) {
		t.Fatalf("overflow delivered = %v, want exactly [t0]", got)
	}
}

func TestAnomalyOverThresholdRaisesAndHolds(t *testing.T) {
	orbit := &orderedOrbit{}
	r, err := New(testReconcilerConfig(), orbit, fixedScorer{confidence: 0.9}, nil, nil)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	ctx := context.Background()

	if err := r.Ingest(ctx, sample(t0)); err != nil {
		t.Fatalf("Ingest() = %v", err)
	}
	r.Flush(ctx)

	active := r.Registry().Active()
	if len(active) != 1 {
		t.Fatalf("active anomalies = %d, want 1", len(active))
	}
	if active[0].Confidence != 0.9 || active[0].Subsystem != "thruster-main" {
		t.Fatalf("anomaly = %+v, want confidence 0.9 on thruster-main", active[0])
	}

	held, reason := r.Registry().Held([]string{"thruster-main"})
	if !held {
		t.Fatal("Held(thruster-main) = false, want true")
	}
	if reason == "" {
		t.Fatal("hold reason is empty")
	}
	if held, _ := r.Registry().Held([]string{"reaction-wheel"}); held {
		t.Fatal("Held(reaction-wheel) = true, want false")
	}

	// Clearing releases the hold.
	if err := r.Clear(ctx, active[0].ID, "op-jmalik"); err != nil {
		t.Fatalf("Clear() = %v", err)
	}
	if held, _ := r.Registry().Held([]string{"thruster-main"}); held {
		t.Fatal("Held() after clear = true, want false")
	}
	if err := r.Clear(ctx, active[0].ID, "op-jmalik"); !errors.Is(err, ErrAnomalyNotFound) {
		t.Fatalf("Clear() twice = %v, want ErrAnomalyNotFound", err)
	}
}

func TestAnomalyUnderThresholdScoresButDoesNotHold(t *testing.T) {
	orbit := &orderedOrbit{}
	sink := &captureSink{}
	r, err := New(testReconcilerConfig(), orbit, fixedScorer{confidence: 0.6}, nil, nil, WithSink(sink))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	ctx := context.Background()

	if err := r.Ingest(ctx, sample(t0)); err != nil {
		t.Fatalf("Ingest() = %v", err)
	}
	r.Flush(ctx)

	if n := len(r.Registry().Active()); n != 0 {
		t.Fatalf("active anomalies = %d, want 0", n)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.samples) != 1 {
		t.Fatalf("archived samples = %d, want 1", len(sink.samples))
	}
	if sink.samples[0].AnomalyScore == nil || *sink.samples[0].AnomalyScore != 0.6 {
		t.Fatalf("archived score = %v, want 0.6", sink.samples[0].AnomalyScore)
	}
}

func TestDuplicateSubsystemAnomalyKeepsFirst(t *testing.T) {
	orbit := &orderedOrbit{}
	r, err := New(testReconcilerConfig(), orbit, fixedScorer{confidence: 0.95}, nil, nil)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := r.Ingest(ctx, sample(t0.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Ingest(%d) = %v", i, err)
		}
	}
	r.Flush(ctx)

	active := r.Registry().Active()
	if len(active) != 1 {
		t.Fatalf("active anomalies = %d, want 1 per subsystem", len(active))
	}
	if !active[0].RaisedAt.Equal(t0) {
		t.Fatalf("RaisedAt = %v, want first sample time %v", active[0].RaisedAt, t0)
	}
}

func TestLimitScorer(t *testing.T) {
	s := &LimitScorer{Limits: []ChannelLimit{{
		Channel:   "battery_v",
		Min:       24,
		Max:       33,
		Subsystem: "power",
		Type:      "battery_voltage_excursion",
	}}}

	if v := s.Score(sample(t0), nil); v.Anomaly {
		t.Fatalf("in-band sample flagged: %+v", v)
	}

	low := sample(t0)
	low.Channels["battery_v"] = 19.5
	v := s.Score(low, nil)
	if !v.Anomaly || v.Subsystem != "power" {
		t.Fatalf("excursion verdict = %+v, want power anomaly", v)
	}
	if v.Confidence <= 0.5 || v.Confidence > 1 {
		t.Fatalf("confidence = %v, want in (0.5, 1]", v.Confidence)
	}

	missing := model.TelemetrySample{SatelliteID: "sat-1", Timestamp: t0, Channels: map[string]float64{}}
	if v := s.Score(missing, nil); v.Anomaly {
		t.Fatalf("missing channel flagged: %+v", v)
	}
}
