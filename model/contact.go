package model

import "time"

// ContactWindow is a ground-station visibility interval. Windows are
// supplied externally and read-only inside the core.
type ContactWindow struct {
	ID        string    `json:"id"`
	StationID string    `json:"station_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	// MaxElevationDeg is the pass quality metric.
	MaxElevationDeg float64 `json:"max_elevation_deg"`
}

// Contains reports whether [from, to] fits entirely inside the window.
func (w ContactWindow) Contains(from, to time.Time) bool {
	return !from.Before(w.Start) && !to.After(w.End)
}

// Reservation is an allocated slice of a contact window's transmission
// capacity.
type Reservation struct {
	WindowID  string    `json:"window_id"`
	CommandID string    `json:"command_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// Overlaps reports whether two half-open time ranges intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
