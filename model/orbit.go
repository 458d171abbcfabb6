package model

import (
	"fmt"
	"math"
	"time"
)

// QuatTolerance is the allowed deviation from unit norm before an attitude
// quaternion is considered corrupt.
const QuatTolerance = 1e-6

// Vec3 is a Cartesian vector. Position components are kilometres,
// velocity components km/s, unless noted otherwise.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 { return Vec3{v.X + w.X, v.Y + w.Y, v.Z + w.Z} }

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 { return Vec3{v.X - w.X, v.Y - w.Y, v.Z - w.Z} }

// Scale returns v * k.
func (v Vec3) Scale(k float64) Vec3 { return Vec3{v.X * k, v.Y * k, v.Z * k} }

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Quaternion is a scalar-first attitude quaternion.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// IdentityQuat is the no-rotation attitude.
func IdentityQuat() Quaternion { return Quaternion{W: 1} }

// Norm returns the quaternion magnitude.
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// IsUnit reports whether q is unit-norm within QuatTolerance.
func (q Quaternion) IsUnit() bool {
	return math.Abs(q.Norm()-1) <= QuatTolerance
}

// Elements is a classical Keplerian element set. Angles are radians,
// normalized to [0, 2*pi). SemiMajorAxis is kilometres.
type Elements struct {
	SemiMajorAxis float64 `json:"semi_major_axis_km"`
	Eccentricity  float64 `json:"eccentricity"`
	Inclination   float64 `json:"inclination_rad"`
	RAAN          float64 `json:"raan_rad"`
	ArgPerigee    float64 `json:"arg_perigee_rad"`
	MeanAnomaly   float64 `json:"mean_anomaly_rad"`
}

// NormalizeAngle maps an angle in radians onto [0, 2*pi).
func NormalizeAngle(a float64) float64 {
	twoPi := 2 * math.Pi
	a = math.Mod(a, twoPi)
	if a < 0 {
		a += twoPi
	}
	return a
}

// Normalize returns a copy of e with every angle mapped onto [0, 2*pi).
func (e Elements) Normalize() Elements {
	e.Inclination = NormalizeAngle(e.Inclination)
	e.RAAN = NormalizeAngle(e.RAAN)
	e.ArgPerigee = NormalizeAngle(e.ArgPerigee)
	e.MeanAnomaly = NormalizeAngle(e.MeanAnomaly)
	return e
}

// Validate checks the element-set invariants.
func (e Elements) Validate() error {
	if e.SemiMajorAxis <= 0 {
		return fmt.Errorf("semi-major axis must be positive, got %f km", e.SemiMajorAxis)
	}
	if e.Eccentricity < 0 || e.Eccentricity >= 1 {
		return fmt.Errorf("eccentricity must be in [0,1), got %f", e.Eccentricity)
	}
	return nil
}

// Covariance is a diagonal uncertainty estimate for the state: one sigma
// per position axis (km) and velocity axis (km/s).
type Covariance struct {
	Position Vec3 `json:"position_sigma_km"`
	Velocity Vec3 `json:"velocity_sigma_kms"`
}

// StateSource attributes an OrbitalState transition.
type StateSource int

const (
	SourceInitial StateSource = iota
	SourcePropagation
	SourceTelemetry
	SourceCommand // acknowledged command; CommandID is set
)

func (s StateSource) String() string {
	switch s {
	case SourceInitial:
		return "INITIAL"
	case SourcePropagation:
		return "PROPAGATION"
	case SourceTelemetry:
		return "TELEMETRY"
	case SourceCommand:
		return "COMMAND"
	}
	return "UNKNOWN"
}

// OrbitalState is the best-estimate orbit and attitude at Epoch.
// Elements are canonical; Position/Velocity are the equivalent ECI vectors.
// States are value types: holders hand out copies, never shared pointers.
type OrbitalState struct {
	SatelliteID string      `json:"satellite_id"`
	Epoch       time.Time   `json:"epoch"`
	Elements    Elements    `json:"elements"`
	Position    Vec3        `json:"position_eci_km"`
	Velocity    Vec3        `json:"velocity_eci_kms"`
	Attitude    Quaternion  `json:"attitude"`
	Covariance  Covariance  `json:"covariance"`
	Version     uint64      `json:"version"`
	Source      StateSource `json:"source"`
	CommandID   string      `json:"command_id,omitempty"`
}

// Validate checks the per-state invariants: a valid element set and a
// unit-norm attitude quaternion.
func (s OrbitalState) Validate() error {
	if s.Epoch.IsZero() {
		return fmt.Errorf("state epoch is unset")
	}
	if err := s.Elements.Validate(); err != nil {
		return err
	}
	if !s.Attitude.IsUnit() {
		return fmt.Errorf("attitude quaternion norm %.9f violates unit-norm invariant", s.Attitude.Norm())
	}
	return nil
}
