// Package events emits the core's append-only outbound records:
// command/plan transitions and anomaly lifecycle events.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/missionctl/internal/logging"
	"github.com/signalsfoundry/missionctl/model"
)

// Writer delivers event records to a sink. Implementations must be safe
// for concurrent use.
type Writer interface {
	Write(ctx context.Context, ev model.Event) error
	Close() error
}

// Clock supplies the timestamp stamped onto events.
type Clock interface {
	Now() time.Time
}

// Recorder stamps identity and mission time onto events before handing
// them to the sink. Sink failures are logged, never propagated: losing
// an outbound event must not stall a command transition.
type Recorder struct {
	sink  Writer
	clock Clock
	log   logging.Logger
}

// NewRecorder wires a sink and mission clock.
func NewRecorder(sink Writer, clock Clock, log logging.Logger) *Recorder {
	if log == nil {
		log = logging.Noop()
	}
	return &Recorder{sink: sink, clock: clock, log: log}
}

// CommandTransition records a command status change.
func (r *Recorder) CommandTransition(ctx context.Context, commandID string, from, to, reason string) {
	r.emit(ctx, model.Event{
		Kind:      model.EventCommandTransition,
		EntityID:  commandID,
		PrevState: from,
		NewState:  to,
		Reason:    reason,
	})
}

// PlanTransition records a plan status change.
func (r *Recorder) PlanTransition(ctx context.Context, planID string, from, to, reason string) {
	r.emit(ctx, model.Event{
		Kind:      model.EventPlanTransition,
		EntityID:  planID,
		PrevState: from,
		NewState:  to,
		Reason:    reason,
	})
}

// AnomalyRaised records a new anomaly event.
func (r *Recorder) AnomalyRaised(ctx context.Context, a *model.AnomalyEvent) {
	r.emit(ctx, model.Event{
		Kind:     model.EventAnomalyRaised,
		EntityID: a.ID,
		NewState: "ACTIVE",
		Reason:   a.Type,
	})
}

// AnomalyCleared records the resolution of an anomaly.
func (r *Recorder) AnomalyCleared(ctx context.Context, a *model.AnomalyEvent, by string) {
	r.emit(ctx, model.Event{
		Kind:      model.EventAnomalyCleared,
		EntityID:  a.ID,
		PrevState: "ACTIVE",
		NewState:  "CLEARED",
		Reason:    by,
	})
}

func (r *Recorder) emit(ctx context.Context, ev model.Event) {
	if r == nil || r.sink == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.Timestamp = r.clock.Now()
	if err := r.sink.Write(ctx, ev); err != nil {
		r.log.Warn(ctx, "event sink write failed",
			logging.String("event_id", ev.ID),
			logging.String("kind", string(ev.Kind)),
			logging.String("error", err.Error()),
		)
	}
}
