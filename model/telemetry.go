package model

import "time"

// TelemetrySample is one observation from the spacecraft. Samples are
// immutable once ingested and retained in timestamp order.
type TelemetrySample struct {
	SatelliteID string             `json:"satellite_id"`
	Timestamp   time.Time          `json:"timestamp"`
	Channels    map[string]float64 `json:"channels"`
	// AnomalyScore is the confidence assigned by the anomaly scorer,
	// present only after scoring.
	AnomalyScore *float64 `json:"anomaly_score,omitempty"`
}

// Clone returns a deep copy so the immutable original can be retained
// while a scored copy is archived.
func (s TelemetrySample) Clone() TelemetrySample {
	out := s
	out.Channels = make(map[string]float64, len(s.Channels))
	for k, v := range s.Channels {
		out.Channels[k] = v
	}
	if s.AnomalyScore != nil {
		score := *s.AnomalyScore
		out.AnomalyScore = &score
	}
	return out
}

// Well-known telemetry channel names consumed by the orbit state model.
const (
	ChanPosX = "pos_x_km"
	ChanPosY = "pos_y_km"
	ChanPosZ = "pos_z_km"
	ChanVelX = "vel_x_kms"
	ChanVelY = "vel_y_kms"
	ChanVelZ = "vel_z_kms"
)
