package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestCollectorRecordsTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewMissionCollector(reg)
	if err != nil {
		t.Fatalf("NewMissionCollector: %v", err)
	}

	collector.CommandTransition("PENDING", "VALIDATED")
	collector.CommandTransition("PENDING", "VALIDATED")
	collector.PlanTransition("DRAFT", "VALIDATED")

	if got := testutil.ToFloat64(collector.CommandTransitions.WithLabelValues("PENDING", "VALIDATED")); got != 2 {
		t.Fatalf("command_transitions_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.PlanTransitions.WithLabelValues("DRAFT", "VALIDATED")); got != 1 {
		t.Fatalf("plan_transitions_total = %v, want 1", got)
	}
}

func TestCollectorTracksStateCensus(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewMissionCollector(reg)
	if err != nil {
		t.Fatalf("NewMissionCollector: %v", err)
	}

	collector.CommandAdmitted("PENDING")
	collector.CommandAdmitted("PENDING")
	collector.CommandTransition("PENDING", "VALIDATED")

	if got := testutil.ToFloat64(collector.CommandStates.WithLabelValues("PENDING")); got != 1 {
		t.Fatalf("commands_by_state{PENDING} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.CommandStates.WithLabelValues("VALIDATED")); got != 1 {
		t.Fatalf("commands_by_state{VALIDATED} = %v, want 1", got)
	}
}

func TestCollectorRecordsResidualHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewMissionCollector(reg)
	if err != nil {
		t.Fatalf("NewMissionCollector: %v", err)
	}

	collector.ResidualObserved(1.2)
	collector.ResidualObserved(7.9)

	if count := histogramSampleCount(t, reg, "reconcile_residual_km"); count != 2 {
		t.Fatalf("reconcile_residual_km sample_count = %d, want 2", count)
	}
}

func TestCollectorCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewMissionCollector(reg)
	if err != nil {
		t.Fatalf("NewMissionCollector: %v", err)
	}

	collector.LateArrivalDropped()
	collector.WindowConflict()
	collector.AnomalyHoldBlocked()
	collector.AnomalyRaised("thermal_excursion")

	if got := testutil.ToFloat64(collector.LateArrivals); got != 1 {
		t.Fatalf("telemetry_late_arrivals_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.AnomaliesRaised.WithLabelValues("thermal_excursion")); got != 1 {
		t.Fatalf("anomalies_raised_total = %v, want 1", got)
	}
}

func TestDuplicateRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewMissionCollector(reg)
	if err != nil {
		t.Fatalf("NewMissionCollector (first): %v", err)
	}
	second, err := NewMissionCollector(reg)
	if err != nil {
		t.Fatalf("NewMissionCollector (second): %v", err)
	}

	first.WindowConflict()
	second.WindowConflict()
	if got := testutil.ToFloat64(second.WindowConflicts); got != 2 {
		t.Fatalf("window_reservation_conflicts_total = %v, want 2 from shared collector", got)
	}
}

func TestMetricsHandlerExposesSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewMissionCollector(reg)
	if err != nil {
		t.Fatalf("NewMissionCollector: %v", err)
	}
	collector.CommandTransition("SCHEDULED", "TRANSMITTED")
	collector.ResidualObserved(0.4)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("metrics handler status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, series := range []string{"command_transitions_total", "reconcile_residual_km"} {
		if !strings.Contains(body, series) {
			t.Fatalf("metrics output missing %s:\n%s", series, body)
		}
	}
}

func histogramSampleCount(t *testing.T, g prometheus.Gatherer, name string) uint64 {
	t.Helper()
	families, err := g.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			var h *dto.Histogram
			if h = m.GetHistogram(); h != nil {
				return h.GetSampleCount()
			}
		}
	}
	t.Fatalf("histogram %s not found", name)
	return 0
}
