// Package archive retains delivered telemetry samples: an in-memory
// ring for quick lookback and a GreptimeDB writer for durable
// time-series storage.
package archive

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/missionctl/model"
)

// Ring retains the most recent samples per satellite in timestamp
// order. Old samples fall off once the capacity is reached.
type Ring struct {
	mu      sync.Mutex
	cap     int
	samples map[string][]model.TelemetrySample
}

// NewRing constructs a Ring holding up to capacity samples per
// satellite.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{cap: capacity, samples: make(map[string][]model.TelemetrySample)}
}

// Append retains a sample. Samples arrive in delivery order, which is
// timestamp order per satellite.
func (r *Ring) Append(_ context.Context, sample model.TelemetrySample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := append(r.samples[sample.SatelliteID], sample.Clone())
	if len(buf) > r.cap {
		buf = buf[len(buf)-r.cap:]
	}
	r.samples[sample.SatelliteID] = buf
	return nil
}

// Recent returns up to n newest samples for a satellite, oldest first.
func (r *Ring) Recent(satelliteID string, n int) []model.TelemetrySample {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := r.samples[satelliteID]
	if n > len(buf) {
		n = len(buf)
	}
	return cloneAll(buf[len(buf)-n:])
}

// Range returns the retained samples for a satellite within [from, to],
// oldest first.
func (r *Ring) Range(satelliteID string, from, to time.Time) []model.TelemetrySample {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := r.samples[satelliteID]
	lo := sort.Search(len(buf), func(i int) bool { return !buf[i].Timestamp.Before(from) })
	hi := sort.Search(len(buf), func(i int) bool { return buf[i].Timestamp.After(to) })
	return cloneAll(buf[lo:hi])
}

func cloneAll(in []model.TelemetrySample) []model.TelemetrySample {
	out := make([]model.TelemetrySample, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

// Sink is the archive write contract shared by the ring and the
// GreptimeDB writer.
type Sink interface {
	Append(ctx context.Context, sample model.TelemetrySample) error
}

type multiSink []Sink

// Multi fans each sample out to every sink; the first error wins but
// all sinks are attempted.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) Append(ctx context.Context, sample model.TelemetrySample) error {
	var first error
	for _, s := range m {
		if err := s.Append(ctx, sample); err != nil && first == nil {
			first = err
		}
	}
	return first
}
