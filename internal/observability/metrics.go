package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MissionCollector bundles the Prometheus metrics for the command
// pipeline and the telemetry reconciler. It satisfies both components'
// recorder interfaces.
type MissionCollector struct {
	gatherer prometheus.Gatherer

	CommandStates      *prometheus.GaugeVec
	CommandTransitions *prometheus.CounterVec
	PlanTransitions    *prometheus.CounterVec
	ResidualKm         prometheus.Histogram
	AnomaliesRaised    *prometheus.CounterVec
	LateArrivals       prometheus.Counter
	WindowConflicts    prometheus.Counter
	AnomalyHolds       prometheus.Counter
}

// NewMissionCollector registers mission metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewMissionCollector(reg prometheus.Registerer) (*MissionCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	cmdStates := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "commands_by_state",
		Help: "Commands currently tracked by the pipeline, labeled by state.",
	}, []string{"state"})
	cmdStates, err := registerGaugeVec(reg, cmdStates, "commands_by_state")
	if err != nil {
		return nil, err
	}

	cmdTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "command_transitions_total",
		Help: "Command state machine transitions, labeled by source and target state.",
	}, []string{"from", "to"})
	cmdTransitions, err = registerCounterVec(reg, cmdTransitions, "command_transitions_total")
	if err != nil {
		return nil, err
	}

	planTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plan_transitions_total",
		Help: "Maneuver plan transitions, labeled by source and target state.",
	}, []string{"from", "to"})
	planTransitions, err = registerCounterVec(reg, planTransitions, "plan_transitions_total")
	if err != nil {
		return nil, err
	}

	residual := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconcile_residual_km",
		Help:    "Innovation magnitude of accepted telemetry reconciliations, in km.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
	})
	residual, err = registerHistogram(reg, residual, "reconcile_residual_km")
	if err != nil {
		return nil, err
	}

	anomalies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anomalies_raised_total",
		Help: "Anomalies raised over the confidence threshold, labeled by type.",
	}, []string{"type"})
	anomalies, err = registerCounterVec(reg, anomalies, "anomalies_raised_total")
	if err != nil {
		return nil, err
	}

	late, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_late_arrivals_total",
		Help: "Telemetry samples dropped for arriving behind already-delivered data.",
	}), "telemetry_late_arrivals_total")
	if err != nil {
		return nil, err
	}
	conflicts, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "window_reservation_conflicts_total",
		Help: "Contact window reservation attempts rejected for overlap.",
	}), "window_reservation_conflicts_total")
	if err != nil {
		return nil, err
	}
	holds, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anomaly_hold_blocks_total",
		Help: "Transmissions blocked by an active anomaly hold.",
	}), "anomaly_hold_blocks_total")
	if err != nil {
		return nil, err
	}

	return &MissionCollector{
		gatherer:           gatherer,
		CommandStates:      cmdStates,
		CommandTransitions: cmdTransitions,
		PlanTransitions:    planTransitions,
		ResidualKm:         residual,
		AnomaliesRaised:    anomalies,
		LateArrivals:       late,
		WindowConflicts:    conflicts,
		AnomalyHolds:       holds,
	}, nil
}

// CommandAdmitted counts a newly tracked command in the state census.
func (c *MissionCollector) CommandAdmitted(state string) {
	if c == nil || c.CommandStates == nil {
		return
	}
	c.CommandStates.WithLabelValues(state).Inc()
}

// CommandTransition records one command state machine edge and moves
// the command between state-census buckets.
func (c *MissionCollector) CommandTransition(from, to string) {
	if c == nil || c.CommandTransitions == nil {
		return
	}
	c.CommandTransitions.WithLabelValues(from, to).Inc()
	if c.CommandStates != nil {
		c.CommandStates.WithLabelValues(from).Dec()
		c.CommandStates.WithLabelValues(to).Inc()
	}
}

// PlanTransition records one plan lifecycle edge.
func (c *MissionCollector) PlanTransition(from, to string) {
	if c == nil || c.PlanTransitions == nil {
		return
	}
	c.PlanTransitions.WithLabelValues(from, to).Inc()
}

// WindowConflict records a rejected reservation attempt.
func (c *MissionCollector) WindowConflict() {
	if c == nil || c.WindowConflicts == nil {
		return
	}
	c.WindowConflicts.Inc()
}

// AnomalyHoldBlocked records a transmission blocked by an active hold.
func (c *MissionCollector) AnomalyHoldBlocked() {
	if c == nil || c.AnomalyHolds == nil {
		return
	}
	c.AnomalyHolds.Inc()
}

// ResidualObserved records an accepted reconciliation's innovation.
func (c *MissionCollector) ResidualObserved(km float64) {
	if c == nil || c.ResidualKm == nil {
		return
	}
	c.ResidualKm.Observe(km)
}

// LateArrivalDropped records a dropped late telemetry sample.
func (c *MissionCollector) LateArrivalDropped() {
	if c == nil || c.LateArrivals == nil {
		return
	}
	c.LateArrivals.Inc()
}

// AnomalyRaised records a raised anomaly by type.
func (c *MissionCollector) AnomalyRaised(kind string) {
	if c == nil || c.AnomaliesRaised == nil {
		return
	}
	c.AnomaliesRaised.WithLabelValues(kind).Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *MissionCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, histogram prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(histogram); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return histogram, nil
}
