package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/missionctl/internal/logging"
	"github.com/signalsfoundry/missionctl/model"
)

var (
	// ErrStaleTelemetry indicates a sample whose timestamp precedes the
	// current state epoch. The held state is left untouched.
	ErrStaleTelemetry = errors.New("stale telemetry: sample precedes state epoch")
	// ErrDivergentResidual indicates the innovation exceeded the
	// configured gate, signalling a sensor fault or model divergence.
	ErrDivergentResidual = errors.New("divergent residual")
	// ErrMissingChannels indicates a sample without the position channels
	// the fusion step requires.
	ErrMissingChannels = errors.New("sample missing position channels")
)

// ReconcileConfig holds the measurement model for telemetry fusion.
// All fields are required; there are no defaults.
type ReconcileConfig struct {
	// MeasSigmaPosKm is the one-sigma position measurement noise.
	MeasSigmaPosKm float64
	// MeasSigmaVelKms is the one-sigma velocity measurement noise.
	MeasSigmaVelKms float64
	// MaxResidualKm gates the position innovation; larger residuals are
	// rejected with ErrDivergentResidual.
	MaxResidualKm float64
}

// Validate rejects incomplete measurement models.
func (c ReconcileConfig) Validate() error {
	if c.MeasSigmaPosKm <= 0 {
		return fmt.Errorf("measurement sigma (position) must be positive, got %f", c.MeasSigmaPosKm)
	}
	if c.MeasSigmaVelKms <= 0 {
		return fmt.Errorf("measurement sigma (velocity) must be positive, got %f", c.MeasSigmaVelKms)
	}
	if c.MaxResidualKm <= 0 {
		return fmt.Errorf("residual gate must be positive, got %f", c.MaxResidualKm)
	}
	return nil
}

// Model is the orbit state model: a propagator plus the versioned state
// store, exposing pure prediction and serialized reconciliation.
type Model struct {
	store *StateStore
	prop  Propagator
	cfg   ReconcileConfig
	log   logging.Logger
}

// NewModel wires a propagator and store into the orbit state model.
func NewModel(store *StateStore, prop Propagator, cfg ReconcileConfig, log logging.Logger) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Model{store: store, prop: prop, cfg: cfg, log: log}, nil
}

// Current returns a snapshot of the held state.
func (m *Model) Current() model.OrbitalState { return m.store.Current() }

// Store exposes the underlying state store, for persistence wiring.
func (m *Model) Store() *StateStore { return m.store }

// Frozen reports whether the underlying store rejected a write and
// locked itself.
func (m *Model) Frozen() (bool, string) { return m.store.Frozen() }

// ApplyBurn folds an acknowledged impulsive burn into the held state:
// the state is propagated to the burn end, the delta-v (RTN frame,
// m/s) is rotated into inertial coordinates and added to the velocity,
// and the elements are recomputed. The installed state carries the
// command attribution.
func (m *Model) ApplyBurn(ctx context.Context, at time.Time, deltaVms model.Vec3, commandID string) error {
	_, err := m.store.Update(func(cur model.OrbitalState) (model.OrbitalState, bool, error) {
		next := cur
		if at.After(cur.Epoch) {
			var err error
			next, err = m.prop.Propagate(cur, at)
			if err != nil {
				return model.OrbitalState{}, false, fmt.Errorf("propagate to burn end: %w", err)
			}
		}

		dvKms := rtnToECI(next.Position, next.Velocity, deltaVms.Scale(1.0/1000.0))
		next.Velocity = next.Velocity.Add(dvKms)
		next.Elements = ElementsFromRV(next.Position, next.Velocity)
		next.Source = model.SourceCommand
		next.CommandID = commandID
		next.Version = cur.Version + 1
		if !at.After(cur.Epoch) {
			// A burn reported at or before the current epoch still bumps the
			// epoch forward so the install stays monotonic.
			next.Epoch = cur.Epoch.Add(time.Millisecond)
		} else {
			next.Epoch = at
		}
		return next, true, nil
	})
	if err != nil {
		return err
	}
	m.log.Info(ctx, "burn applied to orbit state",
		logging.String("command_id", commandID),
		logging.Float64("delta_v_ms", deltaVms.Norm()))
	return nil
}

// rtnToECI rotates a radial/transverse/normal vector into the inertial
// frame defined by the position and velocity.
func rtnToECI(pos, vel, rtn model.Vec3) model.Vec3 {
	cross := func(a, b model.Vec3) model.Vec3 {
		return model.Vec3{
			X: a.Y*b.Z - a.Z*b.Y,
			Y: a.Z*b.X - a.X*b.Z,
			Z: a.X*b.Y - a.Y*b.X,
		}
	}
	r := pos.Scale(1.0 / pos.Norm())
	h := cross(pos, vel)
	n := h.Scale(1.0 / h.Norm())
	t := cross(n, r)
	return model.Vec3{
		X: r.X*rtn.X + t.X*rtn.Y + n.X*rtn.Z,
		Y: r.Y*rtn.X + t.Y*rtn.Y + n.Y*rtn.Z,
		Z: r.Z*rtn.X + t.Z*rtn.Y + n.Z*rtn.Z,
	}
}

// Propagate returns the predicted state at toTime without touching the
// held state. Pure with respect to (held state, toTime).
func (m *Model) Propagate(toTime time.Time) (model.OrbitalState, error) {
	return m.prop.Propagate(m.store.Current(), toTime)
}

// AdvanceTo installs the propagated state at toTime as the new best
// estimate. A toTime at or before the current epoch is a no-op, not an
// integrity violation.
func (m *Model) AdvanceTo(ctx context.Context, toTime time.Time) (model.OrbitalState, error) {
	return m.store.Update(func(cur model.OrbitalState) (model.OrbitalState, bool, error) {
		if !toTime.After(cur.Epoch) {
			return cur, false, nil
		}
		next, err := m.prop.Propagate(cur, toTime)
		if err != nil {
			return model.OrbitalState{}, false, err
		}
		return next, true, nil
	})
}

// Reconcile fuses a telemetry observation into the current state and
// returns the updated state plus the innovation magnitude in km.
// Rejections (stale sample, divergent residual, missing channels) leave
// the held state untouched. The whole read-fuse-install sequence runs
// under the store's writer lock, so concurrent reconciliations and
// propagation advances serialize instead of racing each other into a
// spurious monotonicity rejection.
func (m *Model) Reconcile(ctx context.Context, sample model.TelemetrySample) (model.OrbitalState, float64, error) {
	var residual float64
	fused, err := m.store.Update(func(cur model.OrbitalState) (model.OrbitalState, bool, error) {
		if !sample.Timestamp.After(cur.Epoch) {
			return model.OrbitalState{}, false, fmt.Errorf("%w: sample %s vs epoch %s",
				ErrStaleTelemetry, sample.Timestamp.Format(time.RFC3339), cur.Epoch.Format(time.RFC3339))
		}

		obsPos, ok := sampleVec(sample, model.ChanPosX, model.ChanPosY, model.ChanPosZ)
		if !ok {
			return model.OrbitalState{}, false, ErrMissingChannels
		}

		pred, err := m.prop.Propagate(cur, sample.Timestamp)
		if err != nil {
			return model.OrbitalState{}, false, fmt.Errorf("predict to sample time: %w", err)
		}

		innovation := obsPos.Sub(pred.Position)
		residual = innovation.Norm()
		if residual > m.cfg.MaxResidualKm {
			return model.OrbitalState{}, false, fmt.Errorf("%w: %.3f km exceeds gate %.3f km",
				ErrDivergentResidual, residual, m.cfg.MaxResidualKm)
		}

		// Scalar-gain fusion per axis group: k = prior^2 / (prior^2 + meas^2).
		posGain := gain(meanSigma(pred.Covariance.Position), m.cfg.MeasSigmaPosKm)
		fused := pred
		fused.Position = pred.Position.Add(innovation.Scale(posGain))
		fused.Covariance.Position = pred.Covariance.Position.Scale(math.Sqrt(1 - posGain))

		if obsVel, ok := sampleVec(sample, model.ChanVelX, model.ChanVelY, model.ChanVelZ); ok {
			velGain := gain(meanSigma(pred.Covariance.Velocity), m.cfg.MeasSigmaVelKms)
			fused.Velocity = pred.Velocity.Add(obsVel.Sub(pred.Velocity).Scale(velGain))
			fused.Covariance.Velocity = pred.Covariance.Velocity.Scale(math.Sqrt(1 - velGain))
		}

		// Keep elements consistent with the fused vectors.
		fused.Elements = ElementsFromRV(fused.Position, fused.Velocity)
		fused.Source = model.SourceTelemetry
		fused.CommandID = ""
		fused.Version = pred.Version + 1
		return fused, true, nil
	})
	if err != nil {
		return model.OrbitalState{}, residual, err
	}

	m.log.Debug(ctx, "telemetry reconciled",
		logging.String("satellite_id", sample.SatelliteID),
		logging.Any("residual_km", residual),
		logging.Any("version", fused.Version),
	)
	return fused, residual, nil
}

func gain(priorSigma, measSigma float64) float64 {
	p2 := priorSigma * priorSigma
	m2 := measSigma * measSigma
	if p2+m2 == 0 {
		return 0
	}
	return p2 / (p2 + m2)
}

func meanSigma(v model.Vec3) float64 {
	return (math.Abs(v.X) + math.Abs(v.Y) + math.Abs(v.Z)) / 3
}

func sampleVec(s model.TelemetrySample, kx, ky, kz string) (model.Vec3, bool) {
	x, okX := s.Channels[kx]
	y, okY := s.Channels[ky]
	z, okZ := s.Channels[kz]
	if !okX || !okY || !okZ {
		return model.Vec3{}, false
	}
	return model.Vec3{X: x, Y: y, Z: z}, true
}
