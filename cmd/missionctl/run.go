package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/missionctl/core"
	"github.com/signalsfoundry/missionctl/internal/archive"
	"github.com/signalsfoundry/missionctl/internal/config"
	"github.com/signalsfoundry/missionctl/internal/events"
	"github.com/signalsfoundry/missionctl/internal/logging"
	"github.com/signalsfoundry/missionctl/internal/observability"
	"github.com/signalsfoundry/missionctl/internal/pipeline"
	"github.com/signalsfoundry/missionctl/internal/reconciler"
	"github.com/signalsfoundry/missionctl/internal/schedule"
	"github.com/signalsfoundry/missionctl/internal/store"
	"github.com/signalsfoundry/missionctl/model"
	"github.com/signalsfoundry/missionctl/timectrl"
)

var (
	runConfigPath    string
	runTelemetryPath string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the mission control loop",
	Long:  "run starts the orbit state model, telemetry reconciler, and command pipeline against the configured ground stations.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(runConfigPath)
		if err != nil {
			return err
		}
		return runMission(cmd.Context(), cfg)
	},
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "config/missionctl.yaml", "Path to mission configuration YAML")
	runCmd.Flags().StringVar(&runTelemetryPath, "telemetry", "", "Path to a JSONL telemetry stream to ingest")
}

func runMission(ctx context.Context, cfg *config.Config) error {
	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracingCfg := observability.TracingConfigFromEnv()
	if cfg.Observability.Tracing.Enabled {
		tracingCfg = observability.TracingConfig{
			Enabled:     true,
			ServiceName: "missionctl",
			Exporter:    cfg.Observability.Tracing.Exporter,
			Endpoint:    cfg.Observability.Tracing.Endpoint,
			SampleRatio: 1.0,
		}
	}
	shutdownTracing, err := observability.InitTracing(ctx, tracingCfg, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewMissionCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	clockMode := timectrl.RealTime
	if cfg.Clock.Mode == "accelerated" {
		clockMode = timectrl.Accelerated
	}
	tick := cfg.Clock.Tick.Std()
	if tick <= 0 {
		tick = time.Second
	}
	clock := timectrl.NewMissionTimer(time.Now().UTC(), tick, clockMode)
	if clockMode == timectrl.Accelerated {
		clock.Acceleration = cfg.Clock.Acceleration
	}

	orbit, err := buildOrbitModel(ctx, cfg, db, log)
	if err != nil {
		return err
	}

	windows := schedule.NewContactSchedule()
	for _, w := range cfg.ContactWindows() {
		if err := windows.AddWindow(w); err != nil {
			return fmt.Errorf("add contact window %s: %w", w.ID, err)
		}
	}
	if persisted, err := db.Reservations(ctx); err == nil {
		windows.Restore(persisted)
	}

	sink, closeSink, err := buildEventSink(cfg)
	if err != nil {
		return err
	}
	defer closeSink()
	recorder := events.NewRecorder(sink, clock, log)

	ringCap := cfg.Archive.RingCapacity
	if ringCap <= 0 {
		ringCap = 1024
	}
	ring := archive.NewRing(ringCap)
	samples := archive.Sink(ring)
	if gt := cfg.Archive.Greptime; gt != nil {
		gw, err := archive.NewGreptimeWriter(gt.Endpoint, gt.Database, log)
		if err != nil {
			return fmt.Errorf("init telemetry archive: %w", err)
		}
		samples = archive.Multi(ring, gw)
	}

	limits := make([]reconciler.ChannelLimit, 0, len(cfg.Ingest.Limits))
	for _, l := range cfg.Ingest.Limits {
		limits = append(limits, reconciler.ChannelLimit{
			Channel: l.Channel, Min: l.Min, Max: l.Max,
			Subsystem: l.Subsystem, Type: l.Type,
		})
	}
	rec, err := reconciler.New(reconciler.Config{
		ReorderWindow:    cfg.Ingest.ReorderWindow.Std(),
		BufferLimit:      cfg.Ingest.BufferLimit,
		AnomalyThreshold: cfg.Ingest.AnomalyThreshold,
		HistorySize:      cfg.Ingest.HistorySize,
	}, orbit, &reconciler.LimitScorer{Limits: limits}, recorder, log,
		reconciler.WithSink(samples), reconciler.WithMetrics(collector))
	if err != nil {
		return fmt.Errorf("init reconciler: %w", err)
	}

	pipe, err := pipeline.New(pipeline.Config{
		AckTimeout:       cfg.Pipeline.AckTimeout.Std(),
		GraceMargin:      cfg.Pipeline.GraceMargin.Std(),
		TransmitDuration: cfg.Pipeline.TransmitDuration.Std(),
		MaxRetries:       cfg.Pipeline.MaxRetries,
		BackoffInitial:   cfg.Pipeline.BackoffInitial.Std(),
		BackoffMax:       cfg.Pipeline.BackoffMax.Std(),
	}, clock, windows, levelAuthorizer{max: model.AuthCritical}, newSimTransmitter(clock, log), orbit, recorder, log,
		pipeline.WithMetrics(collector),
		pipeline.WithAnomalyGate(rec.Registry()),
		pipeline.WithBurnApplier(orbit))
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}

	if err := restorePipeline(ctx, db, pipe); err != nil {
		return err
	}

	clock.AddListener(func(now time.Time) {
		if _, err := orbit.AdvanceTo(ctx, now); err != nil {
			log.Warn(ctx, "orbit advance failed", logging.String("error", err.Error()))
		}
		pipe.Tick(ctx, now)
		persist(ctx, db, orbit, pipe, windows, log)
	})

	if runTelemetryPath != "" {
		go ingestTelemetry(ctx, runTelemetryPath, rec, log)
	}

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", collector.Handler())
			log.Info(ctx, "metrics listening", logging.String("addr", addr))
			if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(ctx, "metrics server failed", logging.String("error", err.Error()))
			}
		}()
	}

	stop := make(chan struct{})
	done := clock.Start(0, stop)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigs:
	case <-ctx.Done():
	}

	close(stop)
	<-done
	rec.Flush(ctx)
	persist(ctx, db, orbit, pipe, windows, log)
	log.Info(ctx, "mission control stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := store.OpenPG(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return pg, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func buildOrbitModel(ctx context.Context, cfg *config.Config, db store.Store, log logging.Logger) (*core.Model, error) {
	prop := core.NewSGP4Propagator(cfg.Satellite.TLELine1, cfg.Satellite.TLELine2)
	sigmaPos := cfg.Satellite.SigmaPosKm
	if sigmaPos <= 0 {
		sigmaPos = 1.0
	}
	sigmaVel := cfg.Satellite.SigmaVelKms
	if sigmaVel <= 0 {
		sigmaVel = 0.01
	}
	cov := model.Covariance{
		Position: model.Vec3{X: sigmaPos, Y: sigmaPos, Z: sigmaPos},
		Velocity: model.Vec3{X: sigmaVel, Y: sigmaVel, Z: sigmaVel},
	}

	initial, err := prop.InitialState(cfg.Satellite.ID, time.Now().UTC(), cov)
	if err != nil {
		return nil, fmt.Errorf("seed orbit state: %w", err)
	}
	// A persisted snapshot newer than the TLE seed wins.
	if persisted, err := db.LatestState(ctx, cfg.Satellite.ID); err == nil && persisted.Epoch.After(initial.Epoch) {
		initial = persisted
	}

	states, err := core.NewStateStore(initial)
	if err != nil {
		return nil, fmt.Errorf("init state store: %w", err)
	}
	return core.NewModel(states, prop, core.ReconcileConfig{
		MeasSigmaPosKm:  cfg.Reconcile.MeasSigmaPosKm,
		MeasSigmaVelKms: cfg.Reconcile.MeasSigmaVelKms,
		MaxResidualKm:   cfg.Reconcile.MaxResidualKm,
	}, log)
}

func buildEventSink(cfg *config.Config) (events.Writer, func(), error) {
	var sinks []events.Writer
	var closers []func()
	if path := cfg.Events.FilePath; path != "" {
		fw, err := events.NewFileWriter(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open event log: %w", err)
		}
		sinks = append(sinks, fw)
		closers = append(closers, func() { fw.Close() })
	}
	if k := cfg.Events.Kafka; k != nil {
		kw, err := events.NewKafkaWriter(events.KafkaConfig{Brokers: k.Brokers, Topic: k.Topic})
		if err != nil {
			return nil, nil, fmt.Errorf("open kafka sink: %w", err)
		}
		sinks = append(sinks, kw)
		closers = append(closers, func() { kw.Close() })
	}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(sinks) == 0 {
		return events.NoopWriter{}, closeAll, nil
	}
	return events.NewMultiWriter(sinks...), closeAll, nil
}

func restorePipeline(ctx context.Context, db store.Store, pipe *pipeline.Pipeline) error {
	plans, err := db.OpenPlans(ctx)
	if err != nil {
		return fmt.Errorf("load persisted plans: %w", err)
	}
	cmds, err := db.OpenCommands(ctx)
	if err != nil {
		return fmt.Errorf("load persisted commands: %w", err)
	}
	pipe.Restore(ctx, plans, cmds)
	return nil
}

func persist(ctx context.Context, db store.Store, orbit *core.Model, pipe *pipeline.Pipeline, windows *schedule.ContactSchedule, log logging.Logger) {
	if err := db.SaveState(ctx, orbit.Current()); err != nil {
		log.Error(ctx, "persist state failed", logging.String("error", err.Error()))
	}
	for _, plan := range pipe.Plans() {
		if err := db.SavePlan(ctx, plan); err != nil {
			log.Error(ctx, "persist plan failed", logging.String("error", err.Error()))
		}
	}
	for _, cmd := range pipe.Commands() {
		if err := db.SaveCommand(ctx, cmd); err != nil {
			log.Error(ctx, "persist command failed", logging.String("error", err.Error()))
		}
	}
	persistReservations(ctx, db, windows, log)
}

// persistReservations mirrors the schedule's reservation set into the
// store: live reservations are upserted and previously persisted ones
// that have since been released are deleted, so a restart cannot
// resurrect freed window capacity.
func persistReservations(ctx context.Context, db store.Store, windows *schedule.ContactSchedule, log logging.Logger) {
	live := make(map[string]bool)
	for _, r := range windows.Reservations() {
		live[r.WindowID+"/"+r.CommandID] = true
		if err := db.SaveReservation(ctx, r); err != nil {
			log.Error(ctx, "persist reservation failed", logging.String("error", err.Error()))
		}
	}
	persisted, err := db.Reservations(ctx)
	if err != nil {
		log.Error(ctx, "read persisted reservations failed", logging.String("error", err.Error()))
		return
	}
	for _, r := range persisted {
		if live[r.WindowID+"/"+r.CommandID] {
			continue
		}
		if err := db.DeleteReservation(ctx, r.WindowID, r.CommandID); err != nil {
			log.Error(ctx, "drop released reservation failed", logging.String("error", err.Error()))
		}
	}
}

func ingestTelemetry(ctx context.Context, path string, rec *reconciler.Reconciler, log logging.Logger) {
	f, err := os.Open(path)
	if err != nil {
		log.Error(ctx, "open telemetry stream failed", logging.String("error", err.Error()))
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var sample model.TelemetrySample
		if err := json.Unmarshal(line, &sample); err != nil {
			log.Warn(ctx, "bad telemetry line", logging.String("error", err.Error()))
			continue
		}
		if err := rec.Ingest(ctx, sample); err != nil {
			log.Debug(ctx, "telemetry sample rejected", logging.String("error", err.Error()))
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error(ctx, "telemetry stream read failed", logging.String("error", err.Error()))
	}
}

// levelAuthorizer grants commands up to a maximum authorization level.
type levelAuthorizer struct {
	max model.AuthLevel
}

func (a levelAuthorizer) Authorize(_ context.Context, cmd model.Command) (bool, error) {
	return cmd.AuthLevel <= a.max, nil
}

// simTransmitter stands in for the ground-station uplink: it accepts the
// handover and acknowledges after a short simulated round trip.
type simTransmitter struct {
	clock timectrl.MissionClock
	log   logging.Logger
}

func newSimTransmitter(clock timectrl.MissionClock, log logging.Logger) *simTransmitter {
	return &simTransmitter{clock: clock, log: log}
}

func (t *simTransmitter) Transmit(ctx context.Context, cmd model.Command) (<-chan pipeline.TxResult, error) {
	ch := make(chan pipeline.TxResult, 1)
	go func() {
		select {
		case <-time.After(200 * time.Millisecond):
			ch <- pipeline.TxResult{Ack: true}
		case <-ctx.Done():
			ch <- pipeline.TxResult{Ack: false, Reason: "uplink context cancelled"}
		}
	}()
	t.log.Info(ctx, "command handed to uplink",
		logging.String("command_id", cmd.ID),
		logging.String("satellite_id", cmd.SatelliteID))
	return ch, nil
}
