package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/missionctl/core"
	"github.com/signalsfoundry/missionctl/internal/config"
	"github.com/signalsfoundry/missionctl/internal/logging"
	"github.com/signalsfoundry/missionctl/internal/planner"
	"github.com/signalsfoundry/missionctl/model"
	"github.com/signalsfoundry/missionctl/timectrl"
)

var (
	planConfigPath     string
	planAltitudeKm     float64
	planInclinationDeg float64
	planRAANDeg        float64
	planMaxDeltaV      float64
	planMaxBurnTime    time.Duration
	planMinAltKm       float64
	planMaxAltKm       float64
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan a maneuver toward a target orbit",
	Long:  "plan seeds the orbit state from the configured TLE, searches burn sequences toward the target, and prints the lowest-cost feasible plan as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(planConfigPath)
		if err != nil {
			return err
		}
		return planManeuver(cmd, cfg)
	},
}

func init() {
	planCmd.Flags().StringVar(&planConfigPath, "config", "config/missionctl.yaml", "Path to mission configuration YAML")
	planCmd.Flags().Float64Var(&planAltitudeKm, "altitude-km", 0, "Target circular orbit altitude in km (required)")
	planCmd.Flags().Float64Var(&planInclinationDeg, "inclination-deg", math.NaN(), "Target inclination in degrees (defaults to current)")
	planCmd.Flags().Float64Var(&planRAANDeg, "raan-deg", math.NaN(), "Target RAAN in degrees (defaults to current)")
	planCmd.Flags().Float64Var(&planMaxDeltaV, "max-delta-v", 200, "Delta-v budget in m/s")
	planCmd.Flags().DurationVar(&planMaxBurnTime, "max-burn-time", 30*time.Minute, "Cumulative thrust-on time budget")
	planCmd.Flags().Float64Var(&planMinAltKm, "min-altitude-km", 200, "Keep-out floor altitude in km")
	planCmd.Flags().Float64Var(&planMaxAltKm, "max-altitude-km", 2000, "Keep-out ceiling altitude in km")
	_ = planCmd.MarkFlagRequired("altitude-km")
}

func planManeuver(cmd *cobra.Command, cfg *config.Config) error {
	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	prop := core.NewSGP4Propagator(cfg.Satellite.TLELine1, cfg.Satellite.TLELine2)
	current, err := prop.InitialState(cfg.Satellite.ID, time.Now().UTC(), model.Covariance{
		Position: model.Vec3{X: 1, Y: 1, Z: 1},
		Velocity: model.Vec3{X: 0.01, Y: 0.01, Z: 0.01},
	})
	if err != nil {
		return fmt.Errorf("seed orbit state: %w", err)
	}

	target := current.Elements
	target.SemiMajorAxis = core.EarthRadiusKm + planAltitudeKm
	target.Eccentricity = 0
	if !math.IsNaN(planInclinationDeg) {
		target.Inclination = planInclinationDeg * math.Pi / 180
	}
	if !math.IsNaN(planRAANDeg) {
		target.RAAN = planRAANDeg * math.Pi / 180
	}

	plannerCfg := planner.Config{
		BurnAccelMs2: cfg.Planner.BurnAccelMs2,
		MassKg:       cfg.Planner.MassKg,
		IspSec:       cfg.Planner.IspSec,
		LeadTime:     cfg.Planner.LeadTime.Std(),
		Subsystem:    cfg.Planner.Subsystem,
	}
	p, err := planner.New(plannerCfg, planner.NewPhysicsScorer(), timectrl.NewManual(time.Now().UTC()), log)
	if err != nil {
		return fmt.Errorf("init planner: %w", err)
	}

	plan, err := p.Plan(cmd.Context(), current, target, model.Constraints{
		MaxDeltaVms:   planMaxDeltaV,
		MaxDuration:   planMaxBurnTime,
		MinAltitudeKm: planMinAltKm,
		MaxAltitudeKm: planMaxAltKm,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(plan)
}
