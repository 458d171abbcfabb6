package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/signalsfoundry/missionctl/model"
)

// PGStore persists mission state in PostgreSQL. Entities are stored as
// JSON payloads with the columns needed for filtering lifted out.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// OpenPG connects to PostgreSQL and prepares the schema.
func OpenPG(ctx context.Context, dsn string) (*PGStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := NewPGStore(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the tables if missing.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orbital_states (
			satellite_id TEXT PRIMARY KEY,
			version      BIGINT NOT NULL,
			payload      JSONB NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS maneuver_plans (
			id         TEXT PRIMARY KEY,
			status     INT NOT NULL,
			payload    JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS commands (
			id         TEXT PRIMARY KEY,
			plan_id    TEXT,
			status     INT NOT NULL,
			subsystems TEXT[] NOT NULL DEFAULT '{}',
			payload    JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			window_id  TEXT NOT NULL,
			command_id TEXT NOT NULL,
			start_at   TIMESTAMPTZ NOT NULL,
			end_at     TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (window_id, command_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PGStore) SaveState(ctx context.Context, state model.OrbitalState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	query := `
		INSERT INTO orbital_states (satellite_id, version, payload, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (satellite_id) DO UPDATE
		SET version = EXCLUDED.version, payload = EXCLUDED.payload, updated_at = now()
		WHERE orbital_states.version < EXCLUDED.version
	`
	if _, err := s.db.ExecContext(ctx, query, state.SatelliteID, state.Version, payload); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (s *PGStore) LatestState(ctx context.Context, satelliteID string) (model.OrbitalState, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM orbital_states WHERE satellite_id = $1`, satelliteID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return model.OrbitalState{}, ErrNotFound
	}
	if err != nil {
		return model.OrbitalState{}, fmt.Errorf("load state: %w", err)
	}
	var state model.OrbitalState
	if err := json.Unmarshal(payload, &state); err != nil {
		return model.OrbitalState{}, fmt.Errorf("decode state: %w", err)
	}
	return state, nil
}

func (s *PGStore) SavePlan(ctx context.Context, plan model.ManeuverPlan) error {
	payload, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	query := `
		INSERT INTO maneuver_plans (id, status, payload, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, payload = EXCLUDED.payload, updated_at = now()
	`
	if _, err := s.db.ExecContext(ctx, query, plan.ID, int(plan.Status), payload); err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

func (s *PGStore) OpenPlans(ctx context.Context) ([]model.ManeuverPlan, error) {
	terminal := []int64{int64(model.PlanCompleted), int64(model.PlanAborted)}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM maneuver_plans WHERE NOT (status = ANY($1)) ORDER BY id`,
		pq.Array(terminal))
	if err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}
	defer rows.Close()

	var out []model.ManeuverPlan
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		var plan model.ManeuverPlan
		if err := json.Unmarshal(payload, &plan); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
		out = append(out, plan)
	}
	return out, rows.Err()
}

func (s *PGStore) SaveCommand(ctx context.Context, cmd model.Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	query := `
		INSERT INTO commands (id, plan_id, status, subsystems, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, subsystems = EXCLUDED.subsystems,
		    payload = EXCLUDED.payload, updated_at = now()
	`
	if _, err := s.db.ExecContext(ctx, query,
		cmd.ID, cmd.PlanID, int(cmd.Status), pq.Array(cmd.Subsystems), payload); err != nil {
		return fmt.Errorf("save command: %w", err)
	}
	return nil
}

func (s *PGStore) OpenCommands(ctx context.Context) ([]model.Command, error) {
	terminal := []int64{int64(model.CommandAcknowledged), int64(model.CommandExpired)}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM commands WHERE NOT (status = ANY($1)) ORDER BY id`,
		pq.Array(terminal))
	if err != nil {
		return nil, fmt.Errorf("load commands: %w", err)
	}
	defer rows.Close()

	var out []model.Command
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		var cmd model.Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return nil, fmt.Errorf("decode command: %w", err)
		}
		out = append(out, cmd)
	}
	return out, rows.Err()
}

func (s *PGStore) SaveReservation(ctx context.Context, r model.Reservation) error {
	query := `
		INSERT INTO reservations (window_id, command_id, start_at, end_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (window_id, command_id) DO UPDATE
		SET start_at = EXCLUDED.start_at, end_at = EXCLUDED.end_at
	`
	if _, err := s.db.ExecContext(ctx, query, r.WindowID, r.CommandID, r.Start, r.End); err != nil {
		return fmt.Errorf("save reservation: %w", err)
	}
	return nil
}

func (s *PGStore) DeleteReservation(ctx context.Context, windowID, commandID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM reservations WHERE window_id = $1 AND command_id = $2`,
		windowID, commandID); err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	return nil
}

func (s *PGStore) Reservations(ctx context.Context) ([]model.Reservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT window_id, command_id, start_at, end_at FROM reservations ORDER BY window_id, command_id`)
	if err != nil {
		return nil, fmt.Errorf("load reservations: %w", err)
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		var r model.Reservation
		if err := rows.Scan(&r.WindowID, &r.CommandID, &r.Start, &r.End); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PGStore) Close() error { return s.db.Close() }
