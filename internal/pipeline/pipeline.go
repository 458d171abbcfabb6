// Package pipeline drives commands through validation, authorization,
// scheduling, transmission, and acknowledgement tracking.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/signalsfoundry/missionctl/internal/events"
	"github.com/signalsfoundry/missionctl/internal/logging"
	"github.com/signalsfoundry/missionctl/internal/schedule"
	"github.com/signalsfoundry/missionctl/model"
	"github.com/signalsfoundry/missionctl/timectrl"
)

var (
	// ErrUnsafe indicates a safety check failed. Distinct from
	// ErrUnauthorized so operators can tell "unsafe" from "unauthorized".
	ErrUnsafe = errors.New("command failed safety validation")
	// ErrUnauthorized indicates the injected authorization check denied
	// the command.
	ErrUnauthorized = errors.New("command not authorized")
	// ErrResourceConflict indicates concurrent commands target
	// overlapping subsystems in overlapping time windows.
	ErrResourceConflict = errors.New("resource conflict")
	// ErrAnomalyHold indicates an active anomaly blocks transmission for
	// one of the command's subsystems.
	ErrAnomalyHold = errors.New("anomaly hold active")
	// ErrCancelled indicates the command was cancelled before
	// transmission.
	ErrCancelled = errors.New("command cancelled")
	// ErrNotSchedulable indicates no contact window can fit the
	// transmission with the required margin.
	ErrNotSchedulable = errors.New("no contact window fits transmission")
	// ErrCommandNotFound indicates an unknown command ID.
	ErrCommandNotFound = errors.New("command not found")
	// ErrPlanNotFound indicates an unknown plan ID.
	ErrPlanNotFound = errors.New("plan not found")
)

// Authorizer is the injected authorization capability.
type Authorizer interface {
	Authorize(ctx context.Context, cmd model.Command) (bool, error)
}

// TxResult is the transmitter's asynchronous verdict for one command.
type TxResult struct {
	Ack    bool
	Reason string
}

// Transmitter is the external ground-station collaborator. Transmit
// hands over the payload and returns a channel that later delivers the
// acknowledgement or NACK.
type Transmitter interface {
	Transmit(ctx context.Context, cmd model.Command) (<-chan TxResult, error)
}

// AnomalyGate reports whether an unresolved anomaly holds any of the
// given subsystems. Implemented by the telemetry reconciler's registry.
type AnomalyGate interface {
	Held(subsystems []string) (held bool, reason string)
}

// StateReader exposes the orbit state snapshot for safety validation.
type StateReader interface {
	Current() model.OrbitalState
	Frozen() (bool, string)
}

// BurnApplier folds an acknowledged burn command back into the orbit
// state model.
type BurnApplier interface {
	ApplyBurn(ctx context.Context, at time.Time, deltaVms model.Vec3, commandID string) error
}

// MetricsRecorder receives pipeline observations. Implemented by the
// observability collector; nil-safe via the noop below.
type MetricsRecorder interface {
	CommandAdmitted(state string)
	CommandTransition(from, to string)
	PlanTransition(from, to string)
	WindowConflict()
	AnomalyHoldBlocked()
}

type noopMetrics struct{}

func (noopMetrics) CommandAdmitted(string)           {}
func (noopMetrics) CommandTransition(string, string) {}
func (noopMetrics) PlanTransition(string, string)    {}
func (noopMetrics) WindowConflict()                  {}
func (noopMetrics) AnomalyHoldBlocked()              {}

// Config holds the pipeline's operational parameters. Every field is
// required; the config loader rejects files that omit them.
type Config struct {
	// AckTimeout bounds the wait for an acknowledgement after handover.
	AckTimeout time.Duration
	// GraceMargin extends the hard deadline past the contact window end.
	GraceMargin time.Duration
	// TransmitDuration is the window capacity one transmission consumes.
	TransmitDuration time.Duration
	// MaxRetries bounds Failed -> Pending re-entries per command.
	MaxRetries int
	// BackoffInitial and BackoffMax bound the exponential re-validation
	// backoff after a retryable failure.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Validate rejects incomplete pipeline configuration.
func (c Config) Validate() error {
	if c.AckTimeout <= 0 {
		return fmt.Errorf("ack timeout is required")
	}
	if c.GraceMargin < 0 {
		return fmt.Errorf("grace margin must be non-negative")
	}
	if c.TransmitDuration <= 0 {
		return fmt.Errorf("transmit duration is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("retry limit must be non-negative")
	}
	if c.BackoffInitial <= 0 || c.BackoffMax < c.BackoffInitial {
		return fmt.Errorf("backoff bounds are required, with max >= initial")
	}
	return nil
}

// Pipeline is the command state machine. One mutex guards the command
// and plan tables; transitions touching a whole plan (cascading abort)
// happen atomically under it. Transmission waits run outside the lock.
type Pipeline struct {
	mu        sync.Mutex
	cmds      map[string]*model.Command
	plans     map[string]*model.ManeuverPlan
	planCmds  map[string][]string // plan ID -> command IDs in segment order
	cancelled map[string]bool
	retryWait map[string]*backoff.ExponentialBackOff

	cfg      Config
	clock    timectrl.MissionClock
	windows  *schedule.ContactSchedule
	auth     Authorizer
	tx       Transmitter
	gate     AnomalyGate
	state    StateReader
	applier  BurnApplier
	recorder *events.Recorder
	metrics  MetricsRecorder
	log      logging.Logger
}

// Option customises Pipeline construction.
type Option func(*Pipeline)

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithBurnApplier attaches the orbit-state feedback path for
// acknowledged burns.
func WithBurnApplier(a BurnApplier) Option {
	return func(p *Pipeline) { p.applier = a }
}

// WithAnomalyGate attaches the reconciler's anomaly hold check.
func WithAnomalyGate(g AnomalyGate) Option {
	return func(p *Pipeline) { p.gate = g }
}

// New constructs a Pipeline.
func New(cfg Config, clock timectrl.MissionClock, windows *schedule.ContactSchedule, auth Authorizer, tx Transmitter, state StateReader, recorder *events.Recorder, log logging.Logger, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if auth == nil || tx == nil || state == nil {
		return nil, fmt.Errorf("pipeline requires authorizer, transmitter, and state reader")
	}
	if log == nil {
		log = logging.Noop()
	}
	p := &Pipeline{
		cmds:      make(map[string]*model.Command),
		plans:     make(map[string]*model.ManeuverPlan),
		planCmds:  make(map[string][]string),
		cancelled: make(map[string]bool),
		retryWait: make(map[string]*backoff.ExponentialBackOff),
		cfg:       cfg,
		clock:     clock,
		windows:   windows,
		auth:      auth,
		tx:        tx,
		state:     state,
		recorder:  recorder,
		metrics:   noopMetrics{},
		log:       log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// SubmitPlan accepts a Draft plan, decomposes it into one command per
// burn segment, and takes ownership. The plan moves to Validated once
// every derived command passes safety validation.
func (p *Pipeline) SubmitPlan(ctx context.Context, plan *model.ManeuverPlan) ([]string, error) {
	if plan == nil || plan.Status != model.PlanDraft {
		return nil, fmt.Errorf("only Draft plans can be submitted")
	}
	if len(plan.Segments) == 0 {
		return nil, fmt.Errorf("plan %s has no segments", plan.ID)
	}

	now := p.clock.Now()
	ids := make([]string, 0, len(plan.Segments))

	p.mu.Lock()
	owned := *plan
	p.plans[plan.ID] = &owned
	for i, seg := range plan.Segments {
		payload, err := json.Marshal(seg)
		if err != nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("encode segment %d: %w", i, err)
		}
		cmd := &model.Command{
			ID:           uuid.NewString(),
			SatelliteID:  plan.SatelliteID,
			PlanID:       plan.ID,
			SegmentIndex: i,
			Payload:      payload,
			Subsystems:   []string{seg.Subsystem},
			AuthLevel:    model.AuthElevated,
			EarliestTx:   now,
			LatestTx:     seg.Start, // the burn must be commanded before it fires
			Status:       model.CommandPending,
		}
		p.cmds[cmd.ID] = cmd
		p.planCmds[plan.ID] = append(p.planCmds[plan.ID], cmd.ID)
		ids = append(ids, cmd.ID)
		p.metrics.CommandAdmitted(cmd.Status.String())
	}
	p.mu.Unlock()

	for _, id := range ids {
		if err := p.Validate(ctx, id); err != nil {
			return ids, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.transitionPlanLocked(ctx, p.plans[plan.ID], model.PlanValidated, "all commands passed safety validation")
	return ids, nil
}

// Submit accepts a standalone command in Pending state.
func (p *Pipeline) Submit(ctx context.Context, cmd model.Command) (string, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Status != model.CommandPending {
		return "", fmt.Errorf("submitted command must be Pending, got %s", cmd.Status)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	owned := cmd
	p.cmds[cmd.ID] = &owned
	p.metrics.CommandAdmitted(owned.Status.String())
	return cmd.ID, nil
}

// Command returns a copy of the command.
func (p *Pipeline) Command(id string) (model.Command, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmd, ok := p.cmds[id]
	if !ok {
		return model.Command{}, fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	return *cmd, nil
}

// Plan returns a copy of the plan.
func (p *Pipeline) Plan(id string) (model.ManeuverPlan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	plan, ok := p.plans[id]
	if !ok {
		return model.ManeuverPlan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return *plan, nil
}

// Commands snapshots all commands, ordered by ID, for persistence.
func (p *Pipeline) Commands() []model.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Command, 0, len(p.cmds))
	for _, c := range p.cmds {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Plans snapshots all plans, ordered by ID, for persistence.
func (p *Pipeline) Plans() []model.ManeuverPlan {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.ManeuverPlan, 0, len(p.plans))
	for _, pl := range p.plans {
		out = append(out, *pl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Validate runs the safety checks for a Pending command. Safety runs
// strictly before authorization; a failure here is ErrUnsafe (or
// ErrResourceConflict), never ErrUnauthorized.
func (p *Pipeline) Validate(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmd, ok := p.cmds[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	if cmd.Status != model.CommandPending {
		return fmt.Errorf("validate requires Pending, command %s is %s", id, cmd.Status)
	}

	now := p.clock.Now()
	if cmd.NextAttempt.After(now) {
		return fmt.Errorf("%w: retry backoff until %s", ErrUnsafe, cmd.NextAttempt.Format(time.RFC3339))
	}
	if frozen, reason := p.state.Frozen(); frozen {
		return fmt.Errorf("%w: orbit state frozen: %s", ErrUnsafe, reason)
	}
	if !cmd.LatestTx.After(now) {
		p.transitionLocked(ctx, cmd, model.CommandExpired, "valid-time window elapsed before validation")
		return fmt.Errorf("%w: latest transmission time %s already passed", ErrUnsafe, cmd.LatestTx.Format(time.RFC3339))
	}
	if state := p.state.Current(); state.SatelliteID != cmd.SatelliteID {
		return fmt.Errorf("%w: command targets %s but state tracks %s", ErrUnsafe, cmd.SatelliteID, state.SatelliteID)
	}

	// Concurrent commands touching the same subsystem in overlapping
	// windows are rejected. Sibling commands of the same plan are
	// ordered by construction and exempt.
	for _, other := range p.cmds {
		if other.ID == cmd.ID || other.Status.Terminal() || other.Status == model.CommandFailed {
			continue
		}
		if other.Status == model.CommandPending {
			continue // not yet admitted to a window
		}
		if cmd.PlanID != "" && other.PlanID == cmd.PlanID {
			continue
		}
		if !subsystemsOverlap(cmd.Subsystems, other.Subsystems) {
			continue
		}
		oS, oE := other.ActiveWindow()
		cS, cE := cmd.ActiveWindow()
		if model.Overlaps(cS, cE, oS, oE) {
			return fmt.Errorf("%w: subsystem %v busy with command %s", ErrResourceConflict, cmd.Subsystems, other.ID)
		}
	}

	p.transitionLocked(ctx, cmd, model.CommandValidated, "safety checks passed")
	return nil
}

// Authorize runs the injected authorization check for a Validated
// command. Denial is reported as ErrUnauthorized and leaves the command
// Validated for later re-authorization.
func (p *Pipeline) Authorize(ctx context.Context, id string) error {
	p.mu.Lock()
	cmd, ok := p.cmds[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	if cmd.Status != model.CommandValidated {
		p.mu.Unlock()
		return fmt.Errorf("authorize requires Validated, command %s is %s", id, cmd.Status)
	}
	snapshot := *cmd
	p.mu.Unlock()

	granted, err := p.auth.Authorize(ctx, snapshot)
	if err != nil {
		return fmt.Errorf("authorization check: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	cmd, ok = p.cmds[id]
	if !ok || cmd.Status != model.CommandValidated {
		return fmt.Errorf("%w: command changed during authorization", ErrCommandNotFound)
	}
	if !granted {
		return fmt.Errorf("%w: level %s denied for command %s", ErrUnauthorized, cmd.AuthLevel, id)
	}
	p.transitionLocked(ctx, cmd, model.CommandAuthorized, "authorization granted")
	return nil
}

// Schedule places an Authorized command into the earliest contact window
// that fits transmission plus acknowledgement timeout plus grace before
// the command's latest valid transmission time.
func (p *Pipeline) Schedule(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmd, ok := p.cmds[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	if cmd.Status != model.CommandAuthorized {
		return fmt.Errorf("schedule requires Authorized, command %s is %s", id, cmd.Status)
	}

	now := p.clock.Now()
	slot := p.cfg.TransmitDuration + p.cfg.AckTimeout + p.cfg.GraceMargin

	for _, w := range p.windows.Upcoming(now) {
		start := maxTime(w.Start, now, cmd.EarliestTx)
		end := start.Add(slot)
		if end.After(w.End) || start.After(cmd.LatestTx) {
			continue
		}
		if _, err := p.windows.Reserve(w.ID, cmd.ID, start, end); err != nil {
			if errors.Is(err, schedule.ErrWindowConflict) {
				p.metrics.WindowConflict()
				continue // try the next window
			}
			return err
		}
		cmd.WindowID = w.ID
		p.transitionLocked(ctx, cmd, model.CommandScheduled, fmt.Sprintf("reserved window %s", w.ID))
		if plan, ok := p.plans[cmd.PlanID]; ok && plan.Status == model.PlanValidated {
			p.transitionPlanLocked(ctx, plan, model.PlanScheduled, "first command scheduled")
		}
		return nil
	}
	return fmt.Errorf("%w: no window fits %s before %s", ErrNotSchedulable, slot, cmd.LatestTx.Format(time.RFC3339))
}

// Transmit hands a Scheduled command to the transmitter and tracks the
// acknowledgement asynchronously. The cancellation flag and the anomaly
// gate are checked under the same lock that sets Transmitted, so a
// concurrent Cancel cannot race the handover.
func (p *Pipeline) Transmit(ctx context.Context, id string) error {
	p.mu.Lock()
	cmd, ok := p.cmds[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	if cmd.Status != model.CommandScheduled {
		p.mu.Unlock()
		return fmt.Errorf("transmit requires Scheduled, command %s is %s", id, cmd.Status)
	}
	if p.cancelled[id] {
		p.transitionLocked(ctx, cmd, model.CommandExpired, "cancelled by operator before transmission")
		p.releaseReservationLocked(cmd)
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCancelled, id)
	}
	if p.gate != nil {
		if held, reason := p.gate.Held(cmd.Subsystems); held {
			p.metrics.AnomalyHoldBlocked()
			p.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrAnomalyHold, reason)
		}
	}

	p.transitionLocked(ctx, cmd, model.CommandTransmitted, "handed to transmitter")
	if plan, ok := p.plans[cmd.PlanID]; ok && plan.Status == model.PlanScheduled {
		p.transitionPlanLocked(ctx, plan, model.PlanExecuting, "first command transmitted")
	}
	snapshot := *cmd
	// The hard deadline is expressed in mission time; convert to a wait
	// duration here so accelerated and manual clocks behave.
	wait := p.transmitDeadlineLocked(cmd).Sub(p.clock.Now())
	p.mu.Unlock()

	results, err := p.tx.Transmit(ctx, snapshot)
	if err != nil {
		// Handover itself failed; treat like a NACK.
		p.completeTransmission(ctx, id, TxResult{Ack: false, Reason: fmt.Sprintf("handover failed: %v", err)})
		return nil
	}

	go p.awaitAck(ctx, id, results, wait)
	return nil
}

// awaitAck resolves a Transmitted command from the transmitter's verdict
// or the hard deadline, whichever comes first. The deadline wins
// regardless of in-flight transmitter state.
func (p *Pipeline) awaitAck(ctx context.Context, id string, results <-chan TxResult, wait time.Duration) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case res, ok := <-results:
		if !ok {
			res = TxResult{Ack: false, Reason: "transmitter closed channel without verdict"}
		}
		p.completeTransmission(ctx, id, res)
	case <-timer.C:
		p.completeTransmission(ctx, id, TxResult{Ack: false, Reason: "acknowledgement timeout"})
	case <-ctx.Done():
		p.completeTransmission(ctx, id, TxResult{Ack: false, Reason: "context cancelled while awaiting acknowledgement"})
	}
}

// completeTransmission applies the transmitter verdict: Acknowledged on
// ack, otherwise the retry/abort path.
func (p *Pipeline) completeTransmission(ctx context.Context, id string, res TxResult) {
	p.mu.Lock()

	cmd, ok := p.cmds[id]
	if !ok || cmd.Status != model.CommandTransmitted {
		p.mu.Unlock()
		return // already resolved (e.g. deadline raced the ack)
	}

	if res.Ack {
		p.transitionLocked(ctx, cmd, model.CommandAcknowledged, "acknowledged by spacecraft")
		p.releaseReservationLocked(cmd)
		snapshot := *cmd
		plan, hasPlan := p.plans[cmd.PlanID]
		if hasPlan && p.planCompleteLocked(cmd.PlanID) {
			p.transitionPlanLocked(ctx, plan, model.PlanCompleted, "all commands acknowledged")
		}
		p.mu.Unlock()

		if p.applier != nil && hasPlan {
			p.applyBurn(ctx, plan, snapshot)
		}
		return
	}

	p.failLocked(ctx, cmd, res.Reason)
	p.mu.Unlock()
}

// failLocked handles a NACK/timeout: retry with exponential backoff
// while budget remains, otherwise terminal failure with a cascading
// plan abort. Callers hold mu.
func (p *Pipeline) failLocked(ctx context.Context, cmd *model.Command, reason string) {
	p.transitionLocked(ctx, cmd, model.CommandFailed, reason)
	p.releaseReservationLocked(cmd)
	cmd.WindowID = ""

	if cmd.Retries < p.cfg.MaxRetries {
		cmd.Retries++
		wait := p.nextBackoffLocked(cmd.ID)
		cmd.NextAttempt = p.clock.Now().Add(wait)
		p.transitionLocked(ctx, cmd, model.CommandPending,
			fmt.Sprintf("retry %d/%d after %s", cmd.Retries, p.cfg.MaxRetries, wait))
		return
	}

	// Terminal failure: abort the owning plan and expire every sibling
	// that has not been transmitted, atomically under mu. An aborted
	// plan must not execute a partial, unordered subset of burns.
	delete(p.retryWait, cmd.ID)
	plan, ok := p.plans[cmd.PlanID]
	if !ok {
		return
	}
	if !plan.Status.Terminal() {
		p.transitionPlanLocked(ctx, plan, model.PlanAborted,
			fmt.Sprintf("command %s exhausted retry budget: %s", cmd.ID, reason))
	}
	for _, siblingID := range p.planCmds[cmd.PlanID] {
		sibling := p.cmds[siblingID]
		if sibling.ID == cmd.ID || sibling.Status.Terminal() {
			continue
		}
		switch sibling.Status {
		case model.CommandTransmitted, model.CommandAcknowledged:
			// Already on its way or done; cannot be recalled.
		default:
			p.transitionLocked(ctx, sibling, model.CommandExpired, "plan aborted before transmission")
			p.releaseReservationLocked(sibling)
		}
	}
}

// Cancel marks a not-yet-Transmitted command for expiry. The flag is
// read under the transmit lock, so the cancel either lands before the
// handover or fails cleanly.
func (p *Pipeline) Cancel(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmd, ok := p.cmds[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	switch cmd.Status {
	case model.CommandTransmitted, model.CommandAcknowledged:
		return fmt.Errorf("command %s already %s, cannot cancel", id, cmd.Status)
	case model.CommandExpired:
		return nil
	}
	p.cancelled[id] = true
	p.transitionLocked(ctx, cmd, model.CommandExpired, "cancelled by operator")
	p.releaseReservationLocked(cmd)
	return nil
}

// Tick advances every command one step where possible. Wire it to the
// mission clock listener.
func (p *Pipeline) Tick(ctx context.Context, now time.Time) {
	for _, cmd := range p.Commands() {
		switch cmd.Status {
		case model.CommandPending:
			if !cmd.NextAttempt.After(now) {
				if err := p.Validate(ctx, cmd.ID); err != nil {
					p.log.Debug(ctx, "validation deferred",
						logging.String("command_id", cmd.ID),
						logging.String("error", err.Error()))
				}
			}
		case model.CommandValidated:
			if err := p.Authorize(ctx, cmd.ID); err != nil {
				p.log.Warn(ctx, "authorization failed",
					logging.String("command_id", cmd.ID),
					logging.String("error", err.Error()))
			}
		case model.CommandAuthorized:
			if err := p.Schedule(ctx, cmd.ID); err != nil {
				p.log.Debug(ctx, "scheduling deferred",
					logging.String("command_id", cmd.ID),
					logging.String("error", err.Error()))
			}
		case model.CommandScheduled:
			if p.reservationStarted(cmd, now) {
				if err := p.Transmit(ctx, cmd.ID); err != nil {
					p.log.Info(ctx, "transmission blocked",
						logging.String("command_id", cmd.ID),
						logging.String("error", err.Error()))
				}
			}
		}
	}
}

// Restore reloads persisted commands and plans after a restart.
// Commands recovered in Transmitted state are failed back into the
// retry path: their acknowledgement channel died with the process.
func (p *Pipeline) Restore(ctx context.Context, plans []model.ManeuverPlan, cmds []model.Command) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, plan := range plans {
		owned := plan
		p.plans[plan.ID] = &owned
	}
	for _, cmd := range cmds {
		owned := cmd
		p.cmds[owned.ID] = &owned
		if owned.PlanID != "" {
			p.planCmds[owned.PlanID] = append(p.planCmds[owned.PlanID], owned.ID)
		}
		p.metrics.CommandAdmitted(owned.Status.String())
	}
	for planID, ids := range p.planCmds {
		sort.Slice(ids, func(i, j int) bool {
			return p.cmds[ids[i]].SegmentIndex < p.cmds[ids[j]].SegmentIndex
		})
		p.planCmds[planID] = ids
	}
	for _, cmd := range p.cmds {
		if cmd.Status == model.CommandTransmitted {
			p.failLocked(ctx, cmd, "in-flight at restart; acknowledgement channel lost")
		}
	}
}

// ---- internals ----

func (p *Pipeline) applyBurn(ctx context.Context, plan *model.ManeuverPlan, cmd model.Command) {
	if cmd.SegmentIndex < 0 || cmd.SegmentIndex >= len(plan.Segments) {
		return
	}
	seg := plan.Segments[cmd.SegmentIndex]
	if err := p.applier.ApplyBurn(ctx, seg.End(), seg.DeltaV, cmd.ID); err != nil {
		p.log.Error(ctx, "burn feedback failed",
			logging.String("command_id", cmd.ID),
			logging.String("error", err.Error()))
	}
}

// transmitDeadlineLocked derives the hard acknowledgement deadline: the
// contact window end plus grace, or now+AckTimeout when no window is
// attached (restored standalone commands).
func (p *Pipeline) transmitDeadlineLocked(cmd *model.Command) time.Time {
	if w, ok := p.windows.Window(cmd.WindowID); ok {
		return w.End.Add(p.cfg.GraceMargin)
	}
	return p.clock.Now().Add(p.cfg.AckTimeout + p.cfg.GraceMargin)
}

func (p *Pipeline) reservationStarted(cmd model.Command, now time.Time) bool {
	for _, r := range p.windows.Reservations() {
		if r.CommandID == cmd.ID {
			return !r.Start.After(now)
		}
	}
	return false
}

func (p *Pipeline) releaseReservationLocked(cmd *model.Command) {
	if cmd.WindowID != "" {
		p.windows.Release(cmd.WindowID, cmd.ID)
	}
}

func (p *Pipeline) planCompleteLocked(planID string) bool {
	ids := p.planCmds[planID]
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		if p.cmds[id].Status != model.CommandAcknowledged {
			return false
		}
	}
	return true
}

func (p *Pipeline) nextBackoffLocked(id string) time.Duration {
	b, ok := p.retryWait[id]
	if !ok {
		b = backoff.NewExponentialBackOff()
		b.InitialInterval = p.cfg.BackoffInitial
		b.MaxInterval = p.cfg.BackoffMax
		b.MaxElapsedTime = 0 // retry budget is counted, not timed
		b.RandomizationFactor = 0
		b.Reset()
		p.retryWait[id] = b
	}
	return b.NextBackOff()
}

func (p *Pipeline) transitionLocked(ctx context.Context, cmd *model.Command, to model.CommandStatus, reason string) {
	from := cmd.Status
	if err := cmd.Transition(to); err != nil {
		p.log.Error(ctx, "illegal command transition attempted",
			logging.String("command_id", cmd.ID),
			logging.String("error", err.Error()))
		return
	}
	p.metrics.CommandTransition(from.String(), to.String())
	if p.recorder != nil {
		p.recorder.CommandTransition(ctx, cmd.ID, from.String(), to.String(), reason)
	}
	logging.ForCommand(p.log, cmd.ID, cmd.PlanID).Info(ctx, "command transition",
		logging.String("from", from.String()),
		logging.String("to", to.String()),
		logging.String("reason", reason),
	)
}

func (p *Pipeline) transitionPlanLocked(ctx context.Context, plan *model.ManeuverPlan, to model.PlanStatus, reason string) {
	from := plan.Status
	if err := plan.Transition(to); err != nil {
		p.log.Error(ctx, "illegal plan transition attempted",
			logging.String("plan_id", plan.ID),
			logging.String("error", err.Error()))
		return
	}
	p.metrics.PlanTransition(from.String(), to.String())
	if p.recorder != nil {
		p.recorder.PlanTransition(ctx, plan.ID, from.String(), to.String(), reason)
	}
}

func subsystemsOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func maxTime(ts ...time.Time) time.Time {
	out := ts[0]
	for _, t := range ts[1:] {
		if t.After(out) {
			out = t
		}
	}
	return out
}
