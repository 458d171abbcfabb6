package core

import (
	"fmt"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/missionctl/model"
)

// SGP4Propagator propagates from a two-line element set using the SGP4
// perturbation model. It is used to seed the initial state and for
// prediction while the state still tracks the TLE; once telemetry has
// been fused, the Kepler propagator takes over, since SGP4 can only
// propagate the TLE itself.
type SGP4Propagator struct {
	sat satellite.Satellite
}

// NewSGP4Propagator constructs a propagator from TLE lines.
func NewSGP4Propagator(line1, line2 string) *SGP4Propagator {
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	return &SGP4Propagator{sat: sat}
}

// Propagate implements Propagator. The returned state's elements are
// re-derived from the SGP4 position/velocity so they stay consistent
// with the vectors.
func (p *SGP4Propagator) Propagate(state model.OrbitalState, toTime time.Time) (model.OrbitalState, error) {
	if toTime.Before(state.Epoch) {
		return model.OrbitalState{}, fmt.Errorf("propagation target %s precedes state epoch %s", toTime.Format(time.RFC3339), state.Epoch.Format(time.RFC3339))
	}

	pos, vel := p.rv(toTime)
	next := state
	next.Epoch = toTime
	next.Position = pos
	next.Velocity = vel
	next.Elements = ElementsFromRV(pos, vel)
	next.Source = model.SourcePropagation
	next.CommandID = ""
	next.Version = state.Version + 1
	dt := toTime.Sub(state.Epoch).Seconds()
	next.Covariance.Position = state.Covariance.Position.Add(state.Covariance.Velocity.Scale(dt))
	return next, nil
}

// InitialState builds the system's starting OrbitalState from the TLE at
// the given epoch.
func (p *SGP4Propagator) InitialState(satelliteID string, epoch time.Time, cov model.Covariance) (model.OrbitalState, error) {
	pos, vel := p.rv(epoch)
	state := model.OrbitalState{
		SatelliteID: satelliteID,
		Epoch:       epoch,
		Position:    pos,
		Velocity:    vel,
		Elements:    ElementsFromRV(pos, vel),
		Attitude:    model.IdentityQuat(),
		Covariance:  cov,
		Version:     1,
		Source:      model.SourceInitial,
	}
	if err := state.Validate(); err != nil {
		return model.OrbitalState{}, fmt.Errorf("TLE yields invalid initial state: %w", err)
	}
	return state, nil
}

// rv runs SGP4 for the given UTC instant. go-satellite works in km and
// km/s in the ECI (TEME) frame, which is what the model stores.
func (p *SGP4Propagator) rv(t time.Time) (model.Vec3, model.Vec3) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	pos, vel := satellite.Propagate(p.sat, year, int(month), day, hour, min, sec)
	return model.Vec3{X: pos.X, Y: pos.Y, Z: pos.Z}, model.Vec3{X: vel.X, Y: vel.Y, Z: vel.Z}
}
