// Package reconciler ingests out-of-order telemetry, reorders it within
// a bounded window, scores it for anomalies, and feeds it to the orbit
// state model in timestamp order.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/missionctl/internal/events"
	"github.com/signalsfoundry/missionctl/internal/logging"
	"github.com/signalsfoundry/missionctl/model"
)

var (
	// ErrLateArrival indicates a sample older than data already
	// delivered for its satellite. The sample is dropped, not applied.
	ErrLateArrival = errors.New("telemetry sample arrived too late")
	// ErrAnomalyNotFound indicates an unknown or already-cleared anomaly.
	ErrAnomalyNotFound = errors.New("anomaly not found")
)

// Verdict is the anomaly scorer's judgement of one sample.
type Verdict struct {
	Anomaly    bool
	Confidence float64
	Type       string
	Subsystem  string
}

// AnomalyScorer inspects a sample in the context of recent history.
// Implementations are injected; the reconciler only applies the
// confidence threshold.
type AnomalyScorer interface {
	Score(sample model.TelemetrySample, history []model.TelemetrySample) Verdict
}

// OrbitModel is the downstream consumer of ordered telemetry.
type OrbitModel interface {
	Reconcile(ctx context.Context, sample model.TelemetrySample) (model.OrbitalState, float64, error)
}

// SampleSink archives every delivered sample. Implemented by the
// telemetry archive.
type SampleSink interface {
	Append(ctx context.Context, sample model.TelemetrySample) error
}

// MetricsRecorder receives reconciler observations.
type MetricsRecorder interface {
	ResidualObserved(km float64)
	LateArrivalDropped()
	AnomalyRaised(kind string)
}

type noopMetrics struct{}

func (noopMetrics) ResidualObserved(float64) {}
func (noopMetrics) LateArrivalDropped()      {}
func (noopMetrics) AnomalyRaised(string)     {}

// Config holds the reconciler's operational parameters.
type Config struct {
	// ReorderWindow is how far behind the newest buffered sample a
	// sample may lag and still be reordered rather than delivered.
	ReorderWindow time.Duration
	// BufferLimit caps buffered samples per satellite; overflow forces
	// delivery of the oldest.
	BufferLimit int
	// AnomalyThreshold is the minimum scorer confidence that raises an
	// anomaly event.
	AnomalyThreshold float64
	// HistorySize is the per-satellite sample history handed to the
	// scorer.
	HistorySize int
}

// Validate rejects incomplete reconciler configuration.
func (c Config) Validate() error {
	if c.ReorderWindow <= 0 {
		return fmt.Errorf("reorder window is required")
	}
	if c.BufferLimit <= 0 {
		return fmt.Errorf("buffer limit is required")
	}
	if c.AnomalyThreshold <= 0 || c.AnomalyThreshold > 1 {
		return fmt.Errorf("anomaly threshold must be in (0, 1]")
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("history size is required")
	}
	return nil
}

type satBuffer struct {
	pending       []model.TelemetrySample // sorted by timestamp
	lastDelivered time.Time
	history       []model.TelemetrySample // ring, newest last
}

// Reconciler is the telemetry ingestion front end. One mutex guards the
// per-satellite buffers; delivery to the orbit model happens inside the
// lock so samples reach it strictly ordered per satellite.
type Reconciler struct {
	mu       sync.Mutex
	buffers  map[string]*satBuffer
	registry *Registry

	cfg      Config
	orbit    OrbitModel
	scorer   AnomalyScorer
	sink     SampleSink
	recorder *events.Recorder
	metrics  MetricsRecorder
	log      logging.Logger
}

// Option customises Reconciler construction.
type Option func(*Reconciler)

// WithSink attaches the telemetry archive.
func WithSink(s SampleSink) Option {
	return func(r *Reconciler) { r.sink = s }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(r *Reconciler) {
		if m != nil {
			r.metrics = m
		}
	}
}

// New constructs a Reconciler.
func New(cfg Config, orbit OrbitModel, scorer AnomalyScorer, recorder *events.Recorder, log logging.Logger, opts ...Option) (*Reconciler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if orbit == nil || scorer == nil {
		return nil, fmt.Errorf("reconciler requires an orbit model and an anomaly scorer")
	}
	if log == nil {
		log = logging.Noop()
	}
	r := &Reconciler{
		buffers:  make(map[string]*satBuffer),
		registry: NewRegistry(),
		cfg:      cfg,
		orbit:    orbit,
		scorer:   scorer,
		recorder: recorder,
		metrics:  noopMetrics{},
		log:      log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Registry exposes the anomaly registry, which also serves as the
// pipeline's anomaly gate.
func (r *Reconciler) Registry() *Registry { return r.registry }

// Ingest accepts one sample. Samples newer than anything buffered sit in
// the reorder buffer until the window passes; samples older than data
// already delivered are dropped with ErrLateArrival.
func (r *Reconciler) Ingest(ctx context.Context, sample model.TelemetrySample) error {
	if sample.SatelliteID == "" || sample.Timestamp.IsZero() {
		return fmt.Errorf("sample requires satellite ID and timestamp")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.buffers[sample.SatelliteID]
	if !ok {
		buf = &satBuffer{}
		r.buffers[sample.SatelliteID] = buf
	}

	if !sample.Timestamp.After(buf.lastDelivered) {
		r.metrics.LateArrivalDropped()
		r.log.Warn(ctx, "late telemetry dropped",
			logging.String("satellite_id", sample.SatelliteID),
			logging.String("sample_ts", sample.Timestamp.Format(time.RFC3339Nano)),
			logging.String("delivered_ts", buf.lastDelivered.Format(time.RFC3339Nano)))
		return fmt.Errorf("%w: %s at or before %s", ErrLateArrival,
			sample.Timestamp.Format(time.RFC3339Nano), buf.lastDelivered.Format(time.RFC3339Nano))
	}

	idx := sort.Search(len(buf.pending), func(i int) bool {
		return buf.pending[i].Timestamp.After(sample.Timestamp)
	})
	buf.pending = append(buf.pending, model.TelemetrySample{})
	copy(buf.pending[idx+1:], buf.pending[idx:])
	buf.pending[idx] = sample.Clone()

	r.drainLocked(ctx, sample.SatelliteID, buf, false)
	return nil
}

// Flush delivers every buffered sample regardless of the reorder window.
// Called on shutdown so nothing buffered is lost.
func (r *Reconciler) Flush(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, buf := range r.buffers {
		r.drainLocked(ctx, id, buf, true)
	}
}

// Clear resolves an active anomaly by ID and emits the cleared event.
func (r *Reconciler) Clear(ctx context.Context, anomalyID, clearedBy string) error {
	cleared, err := r.registry.Clear(anomalyID, time.Now().UTC())
	if err != nil {
		return err
	}
	if r.recorder != nil {
		r.recorder.AnomalyCleared(ctx, cleared, clearedBy)
	}
	r.log.Info(ctx, "anomaly cleared",
		logging.String("anomaly_id", anomalyID),
		logging.String("subsystem", cleared.Subsystem),
		logging.String("cleared_by", clearedBy))
	return nil
}

// drainLocked delivers all eligible pending samples in timestamp order.
// When force is set the whole buffer drains; otherwise a sample is
// eligible once the newest buffered timestamp leads it by at least the
// reorder window, or the buffer overflows its limit.
func (r *Reconciler) drainLocked(ctx context.Context, satelliteID string, buf *satBuffer, force bool) {
	for len(buf.pending) > 0 {
		head := buf.pending[0]
		newest := buf.pending[len(buf.pending)-1].Timestamp
		eligible := force ||
			len(buf.pending) > r.cfg.BufferLimit ||
			newest.Sub(head.Timestamp) >= r.cfg.ReorderWindow
		if !eligible {
			return
		}
		buf.pending = buf.pending[1:]
		buf.lastDelivered = head.Timestamp
		r.deliverLocked(ctx, satelliteID, head)
	}
}

// deliverLocked scores a sample, raises anomalies over the threshold,
// archives the scored copy, and feeds the orbit model.
func (r *Reconciler) deliverLocked(ctx context.Context, satelliteID string, sample model.TelemetrySample) {
	verdict := r.scorer.Score(sample, buflist(r.buffers[satelliteID].history))
	scored := sample.Clone()
	if verdict.Anomaly {
		confidence := verdict.Confidence
		scored.AnomalyScore = &confidence
		if confidence >= r.cfg.AnomalyThreshold {
			r.raiseLocked(ctx, satelliteID, scored, verdict)
		}
	}

	buf := r.buffers[satelliteID]
	buf.history = append(buf.history, scored)
	if len(buf.history) > r.cfg.HistorySize {
		buf.history = buf.history[len(buf.history)-r.cfg.HistorySize:]
	}

	if r.sink != nil {
		if err := r.sink.Append(ctx, scored); err != nil {
			r.log.Error(ctx, "telemetry archive append failed",
				logging.String("satellite_id", satelliteID),
				logging.String("error", err.Error()))
		}
	}

	_, residual, err := r.orbit.Reconcile(ctx, scored)
	if err != nil {
		// Rejections leave the orbit state untouched; ordering and the
		// archive are unaffected.
		r.log.Warn(ctx, "sample rejected by orbit model",
			logging.String("satellite_id", satelliteID),
			logging.String("error", err.Error()))
		return
	}
	r.metrics.ResidualObserved(residual)
}

func (r *Reconciler) raiseLocked(ctx context.Context, satelliteID string, sample model.TelemetrySample, verdict Verdict) {
	anomaly := &model.AnomalyEvent{
		ID:          uuid.NewString(),
		SatelliteID: satelliteID,
		Subsystem:   verdict.Subsystem,
		Type:        verdict.Type,
		Confidence:  verdict.Confidence,
		Sample:      sample,
		RaisedAt:    sample.Timestamp,
	}
	if !r.registry.Raise(anomaly) {
		return // subsystem already under an active hold
	}
	r.metrics.AnomalyRaised(verdict.Type)
	if r.recorder != nil {
		r.recorder.AnomalyRaised(ctx, anomaly)
	}
	logging.ForSatellite(r.log, satelliteID).Warn(ctx, "anomaly raised",
		logging.String("anomaly_id", anomaly.ID),
		logging.String("subsystem", anomaly.Subsystem),
		logging.String("type", anomaly.Type),
		logging.Float64("confidence", anomaly.Confidence))
}

func buflist(history []model.TelemetrySample) []model.TelemetrySample {
	out := make([]model.TelemetrySample, len(history))
	copy(out, history)
	return out
}
