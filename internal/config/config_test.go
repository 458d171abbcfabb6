package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

const validYAML = `
satellite:
  id: sat-1
  tle_line1: "1 25544U 98067A   24001.50000000  .00016717  00000-0  10270-3 0  9005"
  tle_line2: "2 25544  51.6400 208.9163 0006317  69.9862 254.3157 15.49560532    15"
  sigma_pos_km: 1.0
  sigma_vel_kms: 0.01

clock:
  mode: accelerated
  acceleration: 60
  tick: 1s

reconcile:
  meas_sigma_pos_km: 0.5
  meas_sigma_vel_kms: 0.005
  max_residual_km: 25.0

ingest:
  reorder_window: 10s
  buffer_limit: 64
  anomaly_threshold: 0.85
  history_size: 32
  limits:
    - channel: battery_v
      min: 24.0
      max: 33.0
      subsystem: power
      type: battery_voltage_excursion

pipeline:
  ack_timeout: 30s
  grace_margin: 10s
  transmit_duration: 20s
  max_retries: 3
  backoff_initial: 5s
  backoff_max: 2m

planner:
  burn_accel_ms2: 0.2
  mass_kg: 450
  isp_sec: 220
  lead_time: 10m
  subsystem: thruster-main

windows:
  - id: win-1
    station_id: gs-svalbard
    start: 2027-03-01T10:00:00Z
    end: 2027-03-01T10:12:00Z
    max_elevation_deg: 55

store:
  driver: memory

events:
  file_path: /tmp/missionctl-events.jsonl

archive:
  ring_capacity: 512

observability:
  metrics_addr: :9090

logging:
  level: info
  format: json
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "missionctl.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Satellite.ID != "sat-1" {
		t.Fatalf("satellite.id = %q, want sat-1", cfg.Satellite.ID)
	}
	if cfg.Pipeline.AckTimeout.Std() != 30*time.Second {
		t.Fatalf("ack_timeout = %v, want 30s", cfg.Pipeline.AckTimeout.Std())
	}
	if cfg.Ingest.ReorderWindow.Std() != 10*time.Second {
		t.Fatalf("reorder_window = %v, want 10s", cfg.Ingest.ReorderWindow.Std())
	}
	if len(cfg.Ingest.Limits) != 1 || cfg.Ingest.Limits[0].Subsystem != "power" {
		t.Fatalf("limits = %+v, want one power limit", cfg.Ingest.Limits)
	}
	windows := cfg.ContactWindows()
	if len(windows) != 1 || windows[0].StationID != "gs-svalbard" {
		t.Fatalf("windows = %+v, want one gs-svalbard pass", windows)
	}
	if !windows[0].End.After(windows[0].Start) {
		t.Fatalf("window [%v, %v] is not a valid interval", windows[0].Start, windows[0].End)
	}
}

func TestLoadRejectsMissingAckTimeout(t *testing.T) {
	broken := strings.Replace(validYAML, "  ack_timeout: 30s\n", "", 1)
	if _, err := Load(writeConfig(t, broken)); err == nil {
		t.Fatal("Load() without ack_timeout succeeded, want error")
	}
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	broken := strings.Replace(validYAML, "anomaly_threshold: 0.85", "anomaly_threshold: 1.7", 1)
	if _, err := Load(writeConfig(t, broken)); err == nil {
		t.Fatal("Load() with threshold > 1 succeeded, want error")
	}
}

func TestLoadRejectsUnknownStoreDriver(t *testing.T) {
	broken := strings.Replace(validYAML, "driver: memory", "driver: sqlite", 1)
	if _, err := Load(writeConfig(t, broken)); err == nil {
		t.Fatal("Load() with unknown store driver succeeded, want error")
	}
}

func TestValidateRequiresPostgresDSN(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	cfg.Store.Driver = "postgres"
	cfg.Store.DSN = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() without DSN succeeded, want error")
	}
}

func TestDurationParsing(t *testing.T) {
	var d Duration
	node := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "90s"}
	if err := d.UnmarshalYAML(node); err != nil {
		t.Fatalf("UnmarshalYAML(90s) = %v", err)
	}
	if d.Std() != 90*time.Second {
		t.Fatalf("parsed = %v, want 90s", d.Std())
	}
	node.Value = "soon"
	if err := d.UnmarshalYAML(node); err == nil {
		t.Fatal("UnmarshalYAML(soon) succeeded, want error")
	}
}
