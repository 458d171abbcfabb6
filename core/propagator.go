package core

import (
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/missionctl/model"
)

// MuEarth is the Earth gravitational parameter in km^3/s^2 (WGS-84).
const MuEarth = 398600.4418

// EarthRadiusKm is the mean equatorial radius used for altitude checks.
const EarthRadiusKm = 6378.137

// Propagator predicts an orbital state at a future time. Implementations
// must be deterministic and side-effect free: identical (state, toTime)
// pairs yield identical output.
type Propagator interface {
	Propagate(state model.OrbitalState, toTime time.Time) (model.OrbitalState, error)
}

// KeplerPropagator advances a state under two-body dynamics by marching
// the mean anomaly and re-deriving the ECI vectors. It is the default
// propagator for telemetry-fused states, whose element sets no longer
// match any TLE.
type KeplerPropagator struct{}

// NewKeplerPropagator returns the two-body propagator.
func NewKeplerPropagator() *KeplerPropagator { return &KeplerPropagator{} }

// MeanMotion returns the mean motion in rad/s for a semi-major axis in km.
func MeanMotion(semiMajorAxisKm float64) float64 {
	return math.Sqrt(MuEarth / (semiMajorAxisKm * semiMajorAxisKm * semiMajorAxisKm))
}

// Propagate implements Propagator.
func (p *KeplerPropagator) Propagate(state model.OrbitalState, toTime time.Time) (model.OrbitalState, error) {
	if err := state.Validate(); err != nil {
		return model.OrbitalState{}, fmt.Errorf("propagate from invalid state: %w", err)
	}
	if toTime.Before(state.Epoch) {
		return model.OrbitalState{}, fmt.Errorf("propagation target %s precedes state epoch %s", toTime.Format(time.RFC3339), state.Epoch.Format(time.RFC3339))
	}

	dt := toTime.Sub(state.Epoch).Seconds()
	elems := state.Elements
	elems.MeanAnomaly = model.NormalizeAngle(elems.MeanAnomaly + MeanMotion(elems.SemiMajorAxis)*dt)

	pos, vel := RVFromElements(elems)

	next := state
	next.Epoch = toTime
	next.Elements = elems
	next.Position = pos
	next.Velocity = vel
	next.Source = model.SourcePropagation
	next.CommandID = ""
	next.Version = state.Version + 1
	// Uncertainty grows linearly with the coast duration.
	next.Covariance.Position = state.Covariance.Position.Add(state.Covariance.Velocity.Scale(dt))
	return next, nil
}

// solveKepler finds the eccentric anomaly E with E - e*sin(E) = M by
// Newton iteration. Converges in a handful of steps for e < 1.
func solveKepler(meanAnomaly, ecc float64) float64 {
	e0 := meanAnomaly
	if ecc > 0.8 {
		e0 = math.Pi
	}
	for i := 0; i < 50; i++ {
		delta := (e0 - ecc*math.Sin(e0) - meanAnomaly) / (1 - ecc*math.Cos(e0))
		e0 -= delta
		if math.Abs(delta) < 1e-12 {
			break
		}
	}
	return e0
}

// RVFromElements converts a Keplerian element set to ECI position (km)
// and velocity (km/s) vectors.
func RVFromElements(e model.Elements) (model.Vec3, model.Vec3) {
	ea := solveKepler(e.MeanAnomaly, e.Eccentricity)
	cosE, sinE := math.Cos(ea), math.Sin(ea)

	// True anomaly and radius from the eccentric anomaly.
	nu := math.Atan2(math.Sqrt(1-e.Eccentricity*e.Eccentricity)*sinE, cosE-e.Eccentricity)
	r := e.SemiMajorAxis * (1 - e.Eccentricity*cosE)

	// Perifocal frame.
	pPF := model.Vec3{X: r * math.Cos(nu), Y: r * math.Sin(nu)}
	h := math.Sqrt(MuEarth * e.SemiMajorAxis * (1 - e.Eccentricity*e.Eccentricity))
	vPF := model.Vec3{
		X: -MuEarth / h * math.Sin(nu),
		Y: MuEarth / h * (e.Eccentricity + math.Cos(nu)),
	}

	return rotatePerifocalToECI(pPF, e), rotatePerifocalToECI(vPF, e)
}

// ElementsFromRV converts ECI position/velocity back to Keplerian
// elements with all angles normalized to [0, 2*pi).
func ElementsFromRV(pos, vel model.Vec3) model.Elements {
	r := pos.Norm()
	v2 := vel.X*vel.X + vel.Y*vel.Y + vel.Z*vel.Z

	// Specific angular momentum.
	h := model.Vec3{
		X: pos.Y*vel.Z - pos.Z*vel.Y,
		Y: pos.Z*vel.X - pos.X*vel.Z,
		Z: pos.X*vel.Y - pos.Y*vel.X,
	}
	hn := h.Norm()

	// Node vector.
	n := model.Vec3{X: -h.Y, Y: h.X}
	nn := n.Norm()

	// Eccentricity vector.
	rv := pos.X*vel.X + pos.Y*vel.Y + pos.Z*vel.Z
	eVec := pos.Scale(v2 - MuEarth/r).Sub(vel.Scale(rv)).Scale(1 / MuEarth)
	ecc := eVec.Norm()

	energy := v2/2 - MuEarth/r
	sma := -MuEarth / (2 * energy)

	inc := math.Acos(clamp(h.Z/hn, -1, 1))

	var raan float64
	if nn > 1e-12 {
		raan = math.Acos(clamp(n.X/nn, -1, 1))
		if n.Y < 0 {
			raan = 2*math.Pi - raan
		}
	}

	var argp float64
	if nn > 1e-12 && ecc > 1e-12 {
		argp = math.Acos(clamp((n.X*eVec.X+n.Y*eVec.Y+n.Z*eVec.Z)/(nn*ecc), -1, 1))
		if eVec.Z < 0 {
			argp = 2*math.Pi - argp
		}
	}

	var nu float64
	if ecc > 1e-12 {
		nu = math.Acos(clamp((eVec.X*pos.X+eVec.Y*pos.Y+eVec.Z*pos.Z)/(ecc*r), -1, 1))
		if rv < 0 {
			nu = 2*math.Pi - nu
		}
	} else {
		// Circular orbit: measure from the ascending node (or x-axis for
		// equatorial circular).
		ref := n
		refN := nn
		if refN < 1e-12 {
			ref = model.Vec3{X: 1}
			refN = 1
		}
		nu = math.Acos(clamp((ref.X*pos.X+ref.Y*pos.Y+ref.Z*pos.Z)/(refN*r), -1, 1))
		if pos.Z < 0 {
			nu = 2*math.Pi - nu
		}
	}

	// True -> eccentric -> mean anomaly.
	ea := 2 * math.Atan2(math.Sqrt(1-ecc)*math.Sin(nu/2), math.Sqrt(1+ecc)*math.Cos(nu/2))
	ma := ea - ecc*math.Sin(ea)

	return model.Elements{
		SemiMajorAxis: sma,
		Eccentricity:  ecc,
		Inclination:   inc,
		RAAN:          raan,
		ArgPerigee:    argp,
		MeanAnomaly:   ma,
	}.Normalize()
}

func rotatePerifocalToECI(v model.Vec3, e model.Elements) model.Vec3 {
	cO, sO := math.Cos(e.RAAN), math.Sin(e.RAAN)
	ci, si := math.Cos(e.Inclination), math.Sin(e.Inclination)
	cw, sw := math.Cos(e.ArgPerigee), math.Sin(e.ArgPerigee)

	return model.Vec3{
		X: (cO*cw-sO*sw*ci)*v.X + (-cO*sw-sO*cw*ci)*v.Y,
		Y: (sO*cw+cO*sw*ci)*v.X + (-sO*sw+cO*cw*ci)*v.Y,
		Z: (sw*si)*v.X + (cw*si)*v.Y,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
