// Package store persists orbit state, plans, commands, and reservations
// so a restart can resume mid-flight work.
package store

import (
	"context"
	"errors"

	"github.com/signalsfoundry/missionctl/model"
)

var (
	ErrNotFound = errors.New("record not found")
)

// Store is the persistence contract for mission control state. Writes
// are upserts keyed by entity ID; the Open* readers return only records
// a restart needs to resume (non-terminal plans and commands).
type Store interface {
	SaveState(ctx context.Context, state model.OrbitalState) error
	LatestState(ctx context.Context, satelliteID string) (model.OrbitalState, error)

	SavePlan(ctx context.Context, plan model.ManeuverPlan) error
	OpenPlans(ctx context.Context) ([]model.ManeuverPlan, error)

	SaveCommand(ctx context.Context, cmd model.Command) error
	OpenCommands(ctx context.Context) ([]model.Command, error)

	SaveReservation(ctx context.Context, r model.Reservation) error
	DeleteReservation(ctx context.Context, windowID, commandID string) error
	Reservations(ctx context.Context) ([]model.Reservation, error)

	Ping(ctx context.Context) error
	Close() error
}
