// YAML config loader with CUE validation integration
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/missionctl/model"
)

// Duration wraps time.Duration with YAML string parsing ("30s", "5m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Satellite identifies the tracked spacecraft and its initial orbit.
type Satellite struct {
	ID       string `yaml:"id"`
	TLELine1 string `yaml:"tle_line1"`
	TLELine2 string `yaml:"tle_line2"`
	// Initial covariance sigmas for the seeded state.
	SigmaPosKm  float64 `yaml:"sigma_pos_km"`
	SigmaVelKms float64 `yaml:"sigma_vel_kms"`
}

// Clock selects wall-clock or accelerated mission time.
type Clock struct {
	Mode         string   `yaml:"mode"` // realtime or accelerated
	Acceleration float64  `yaml:"acceleration"`
	Tick         Duration `yaml:"tick"`
}

// Reconcile tunes the telemetry fusion gate.
type Reconcile struct {
	MeasSigmaPosKm  float64 `yaml:"meas_sigma_pos_km"`
	MeasSigmaVelKms float64 `yaml:"meas_sigma_vel_kms"`
	MaxResidualKm   float64 `yaml:"max_residual_km"`
}

// ChannelLimit bounds one telemetry channel for the rule-based scorer.
type ChannelLimit struct {
	Channel   string  `yaml:"channel"`
	Min       float64 `yaml:"min"`
	Max       float64 `yaml:"max"`
	Subsystem string  `yaml:"subsystem"`
	Type      string  `yaml:"type"`
}

// Ingest tunes the telemetry reorder buffer and anomaly scoring.
type Ingest struct {
	ReorderWindow    Duration       `yaml:"reorder_window"`
	BufferLimit      int            `yaml:"buffer_limit"`
	AnomalyThreshold float64        `yaml:"anomaly_threshold"`
	HistorySize      int            `yaml:"history_size"`
	Limits           []ChannelLimit `yaml:"limits"`
}

// Pipeline holds the command pipeline's required operational parameters.
type Pipeline struct {
	AckTimeout       Duration `yaml:"ack_timeout"`
	GraceMargin      Duration `yaml:"grace_margin"`
	TransmitDuration Duration `yaml:"transmit_duration"`
	MaxRetries       int      `yaml:"max_retries"`
	BackoffInitial   Duration `yaml:"backoff_initial"`
	BackoffMax       Duration `yaml:"backoff_max"`
}

// Planner holds the maneuver planner's vehicle parameters.
type Planner struct {
	BurnAccelMs2 float64  `yaml:"burn_accel_ms2"`
	MassKg       float64  `yaml:"mass_kg"`
	IspSec       float64  `yaml:"isp_sec"`
	LeadTime     Duration `yaml:"lead_time"`
	Subsystem    string   `yaml:"subsystem"`
}

// Window is one ground-station visibility interval.
type Window struct {
	ID              string    `yaml:"id"`
	StationID       string    `yaml:"station_id"`
	Start           time.Time `yaml:"start"`
	End             time.Time `yaml:"end"`
	MaxElevationDeg float64   `yaml:"max_elevation_deg"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory or postgres
	DSN    string `yaml:"dsn"`
}

// KafkaSink configures the Kafka event sink.
type KafkaSink struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Events configures the outbound event sinks.
type Events struct {
	FilePath string     `yaml:"file_path"`
	Kafka    *KafkaSink `yaml:"kafka"`
}

// GreptimeSink configures the durable telemetry archive.
type GreptimeSink struct {
	Endpoint string `yaml:"endpoint"`
	Database string `yaml:"database"`
}

// Archive configures telemetry retention.
type Archive struct {
	RingCapacity int           `yaml:"ring_capacity"`
	Greptime     *GreptimeSink `yaml:"greptime"`
}

// Tracing configures the OpenTelemetry exporter.
type Tracing struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout or otlp-grpc
	Endpoint string `yaml:"endpoint"`
}

// Observability configures metrics and tracing.
type Observability struct {
	MetricsAddr string  `yaml:"metrics_addr"`
	Tracing     Tracing `yaml:"tracing"`
}

// Logging configures the structured logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root mission control configuration.
type Config struct {
	Satellite     Satellite     `yaml:"satellite"`
	Clock         Clock         `yaml:"clock"`
	Reconcile     Reconcile     `yaml:"reconcile"`
	Ingest        Ingest        `yaml:"ingest"`
	Pipeline      Pipeline      `yaml:"pipeline"`
	Planner       Planner       `yaml:"planner"`
	Windows       []Window      `yaml:"windows"`
	Store         StoreConfig   `yaml:"store"`
	Events        Events        `yaml:"events"`
	Archive       Archive       `yaml:"archive"`
	Observability Observability `yaml:"observability"`
	Logging       Logging       `yaml:"logging"`
}

// ContactWindows converts the configured windows to model values.
func (c *Config) ContactWindows() []model.ContactWindow {
	out := make([]model.ContactWindow, 0, len(c.Windows))
	for _, w := range c.Windows {
		out = append(out, model.ContactWindow{
			ID:              w.ID,
			StationID:       w.StationID,
			Start:           w.Start,
			End:             w.End,
			MaxElevationDeg: w.MaxElevationDeg,
		})
	}
	return out
}

// Load loads YAML config, validates it against the embedded CUE schema,
// and applies the semantic checks the schema cannot express.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	if err := ValidateWithCue(data); err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the required operational parameters. Timeouts and
// retry limits have no defaults; a config that omits them is rejected.
func (c *Config) Validate() error {
	if c.Satellite.ID == "" {
		return fmt.Errorf("satellite.id is required")
	}
	if c.Satellite.TLELine1 == "" || c.Satellite.TLELine2 == "" {
		return fmt.Errorf("satellite TLE lines are required")
	}
	if c.Pipeline.AckTimeout <= 0 {
		return fmt.Errorf("pipeline.ack_timeout is required")
	}
	if c.Pipeline.TransmitDuration <= 0 {
		return fmt.Errorf("pipeline.transmit_duration is required")
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must be non-negative")
	}
	if c.Pipeline.BackoffInitial <= 0 || c.Pipeline.BackoffMax < c.Pipeline.BackoffInitial {
		return fmt.Errorf("pipeline backoff bounds are required, with max >= initial")
	}
	if c.Ingest.ReorderWindow <= 0 {
		return fmt.Errorf("ingest.reorder_window is required")
	}
	if c.Ingest.AnomalyThreshold <= 0 || c.Ingest.AnomalyThreshold > 1 {
		return fmt.Errorf("ingest.anomaly_threshold must be in (0, 1]")
	}
	if c.Reconcile.MaxResidualKm <= 0 {
		return fmt.Errorf("reconcile.max_residual_km is required")
	}
	switch c.Clock.Mode {
	case "", "realtime":
	case "accelerated":
		if c.Clock.Acceleration <= 0 {
			return fmt.Errorf("clock.acceleration must be positive in accelerated mode")
		}
	default:
		return fmt.Errorf("clock.mode must be realtime or accelerated, got %q", c.Clock.Mode)
	}
	switch c.Store.Driver {
	case "", "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be memory or postgres, got %q", c.Store.Driver)
	}
	for i, w := range c.Windows {
		if w.ID == "" || !w.End.After(w.Start) {
			return fmt.Errorf("windows[%d] requires an id and end after start", i)
		}
	}
	return nil
}
