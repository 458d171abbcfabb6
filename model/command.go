package model

import (
	"fmt"
	"time"
)

// CommandStatus tracks a Command through the pipeline state machine.
// The lifecycle is strictly forward except for the Failed -> Pending
// retry edge.
type CommandStatus int

const (
	CommandPending CommandStatus = iota
	CommandValidated
	CommandAuthorized
	CommandScheduled
	CommandTransmitted
	CommandAcknowledged
	CommandFailed
	CommandExpired
)

func (s CommandStatus) String() string {
	switch s {
	case CommandPending:
		return "PENDING"
	case CommandValidated:
		return "VALIDATED"
	case CommandAuthorized:
		return "AUTHORIZED"
	case CommandScheduled:
		return "SCHEDULED"
	case CommandTransmitted:
		return "TRANSMITTED"
	case CommandAcknowledged:
		return "ACKNOWLEDGED"
	case CommandFailed:
		return "FAILED"
	case CommandExpired:
		return "EXPIRED"
	}
	return "UNKNOWN"
}

// Terminal reports whether the status admits no further transitions.
// Failed is terminal only once the retry budget is exhausted; the
// pipeline owns that decision.
func (s CommandStatus) Terminal() bool {
	return s == CommandAcknowledged || s == CommandExpired
}

// AuthLevel is the authorization tier a command requires.
type AuthLevel int

const (
	AuthRoutine AuthLevel = iota
	AuthElevated
	AuthCritical
)

func (a AuthLevel) String() string {
	switch a {
	case AuthRoutine:
		return "ROUTINE"
	case AuthElevated:
		return "ELEVATED"
	case AuthCritical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

// Command is a discrete instruction bound for the spacecraft, derived
// from a plan segment or issued standalone.
type Command struct {
	ID          string    `json:"id"`
	SatelliteID string    `json:"satellite_id"`
	PlanID      string    `json:"plan_id,omitempty"`
	// SegmentIndex orders commands derived from the same plan.
	SegmentIndex int    `json:"segment_index"`
	Payload      []byte `json:"payload"`
	// Subsystems are the thruster/attitude resources the command occupies
	// while active; used for conflict checks and anomaly holds.
	Subsystems []string  `json:"subsystems"`
	AuthLevel  AuthLevel `json:"auth_level"`
	// EarliestTx/LatestTx bound the valid transmission interval.
	EarliestTx time.Time     `json:"earliest_tx"`
	LatestTx   time.Time     `json:"latest_tx"`
	Status     CommandStatus `json:"status"`
	Retries    int           `json:"retries"`
	WindowID   string        `json:"window_id,omitempty"`
	// NextAttempt is the backoff-derived earliest re-validation time after
	// a retryable failure.
	NextAttempt time.Time `json:"next_attempt,omitempty"`
}

// ActiveWindow returns the interval during which the command occupies its
// subsystems, for resource-conflict checks.
func (c *Command) ActiveWindow() (time.Time, time.Time) {
	return c.EarliestTx, c.LatestTx
}

var commandTransitions = map[CommandStatus][]CommandStatus{
	CommandPending:     {CommandValidated, CommandExpired},
	CommandValidated:   {CommandAuthorized, CommandFailed, CommandExpired},
	CommandAuthorized:  {CommandScheduled, CommandFailed, CommandExpired},
	CommandScheduled:   {CommandTransmitted, CommandFailed, CommandExpired},
	CommandTransmitted: {CommandAcknowledged, CommandFailed},
	CommandFailed:      {CommandPending, CommandExpired}, // retry edge
}

// CanTransitionCommand reports whether from -> to is a legal edge.
func CanTransitionCommand(from, to CommandStatus) bool {
	for _, next := range commandTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition applies a status change, rejecting illegal edges.
func (c *Command) Transition(to CommandStatus) error {
	if !CanTransitionCommand(c.Status, to) {
		return fmt.Errorf("illegal command transition %s -> %s for command %s", c.Status, to, c.ID)
	}
	c.Status = to
	return nil
}
