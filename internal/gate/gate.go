package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/afewell-hh/demon/internal/eventlog"
	"github.com/afewell-hh/demon/internal/telemetry"
)

// Status is the outcome of a Grant/Deny call.
type Status string

const (
	// StatusOK means the terminal event was newly recorded.
	StatusOK Status = "ok"
	// StatusNoop means the gate already carried this exact terminal outcome.
	StatusNoop Status = "noop"
	// StatusConflict means the gate is already terminal with a different
	// outcome than the one requested.
	StatusConflict Status = "conflict"
)

// ErrApproverNotAllowed is returned when the caller is not on the approver
// allowlist.
var ErrApproverNotAllowed = errors.New("gate: approver not allowed")

// ActionResult reports the effect of a Grant or Deny call.
type ActionResult struct {
	Status Status
	State  State
}

// Gate implements the Approval Gate state machine: Pending -> {Granted,
// Denied, Expired}, bounded by a per-gate TTL timer.
type Gate struct {
	log       *eventlog.Log
	wheel     *Wheel
	ttl       time.Duration
	allowlist map[string]struct{}
	clock     func() time.Time
	metrics   telemetry.Metrics
}

// Options configures a Gate.
type Options struct {
	Log   *eventlog.Log
	Wheel *Wheel
	// TTL is the default gate timeout; spec default is 3600s
	// (APPROVAL_TTL_SECONDS).
	TTL time.Duration
	// ApproverAllowlist restricts who may grant/deny; empty allows anyone.
	ApproverAllowlist []string
	// Metrics records gate decision counters; defaults to a noop recorder.
	Metrics telemetry.Metrics
}

// New constructs a Gate.
func New(opts Options) *Gate {
	allow := make(map[string]struct{}, len(opts.ApproverAllowlist))
	for _, a := range opts.ApproverAllowlist {
		allow[a] = struct{}{}
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 3600 * time.Second
	}
	wheel := opts.Wheel
	if wheel == nil {
		wheel = NewWheel()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Gate{log: opts.Log, wheel: wheel, ttl: ttl, allowlist: allow, clock: time.Now, metrics: metrics}
}

// expiryKey derives the wheel key and timer.scheduled dedup id for a gate.
func expiryKey(runID, gateID string) string {
	return eventlog.ApprovalExpiryTimerKey(runID, gateID)
}

// Request records an approval.requested event and arms the expiry timer for
// (runID, gateID), unless that has already happened (both emissions are
// idempotent via their deterministic dedup ids, so a retried request is
// safe).
func (g *Gate) Request(ctx context.Context, tenantID, runID, ritualID, gateID, requester string) error {
	now := g.clock()

	requested := eventlog.Event{
		Kind:      eventlog.KindApprovalRequested,
		Ts:        now,
		TenantID:  tenantID,
		RunID:     runID,
		RitualID:  ritualID,
		MessageID: eventlog.ApprovalRequestedMessageID(runID, gateID),
	}
	requested, err := requested.WithFields(approvalFields{GateID: gateID, Requester: requester, TTL: int64(g.ttl.Seconds())})
	if err != nil {
		return fmt.Errorf("gate: encode approval.requested: %w", err)
	}
	ack, err := g.log.Append(ctx, requested)
	if err != nil {
		return fmt.Errorf("gate: emit approval.requested: %w", err)
	}

	due := now.Add(g.ttl)
	scheduled := eventlog.Event{
		Kind:      eventlog.KindTimerScheduled,
		Ts:        now,
		TenantID:  tenantID,
		RunID:     runID,
		RitualID:  ritualID,
		MessageID: eventlog.ApprovalExpiryScheduledMessageID(runID, gateID),
	}
	scheduled, err = scheduled.WithFields(struct {
		TimerID string    `json:"timerId"`
		Due     time.Time `json:"due"`
	}{TimerID: expiryKey(runID, gateID), Due: due})
	if err != nil {
		return fmt.Errorf("gate: encode timer.scheduled: %w", err)
	}
	if _, err := g.log.Append(ctx, scheduled); err != nil {
		return fmt.Errorf("gate: emit timer.scheduled: %w", err)
	}

	if !ack.Duplicate {
		g.wheel.ScheduleWithKey(expiryKey(runID, gateID), runID, ritualID, due)
	}
	return nil
}

// Grant authorizes approver against the allowlist, then appends the gate's
// terminal approval.granted event. A grant matching an already-recorded
// grant is a no-op; one conflicting with a different recorded terminal is a
// conflict.
func (g *Gate) Grant(ctx context.Context, tenantID, runID, ritualID, gateID, approver, reason string) (ActionResult, error) {
	return g.terminate(ctx, tenantID, runID, ritualID, gateID, approver, reason, PhaseGranted)
}

// Deny authorizes approver against the allowlist, then appends the gate's
// terminal approval.denied event, with the same no-op/conflict semantics as
// Grant.
func (g *Gate) Deny(ctx context.Context, tenantID, runID, ritualID, gateID, approver, reason string) (ActionResult, error) {
	return g.terminate(ctx, tenantID, runID, ritualID, gateID, approver, reason, PhaseDenied)
}

func (g *Gate) terminate(ctx context.Context, tenantID, runID, ritualID, gateID, approver, reason string, outcome Phase) (ActionResult, error) {
	if len(g.allowlist) > 0 {
		if _, ok := g.allowlist[approver]; !ok {
			return ActionResult{}, ErrApproverNotAllowed
		}
	}

	events, err := g.log.ReadRun(ctx, tenantID, ritualID, runID)
	if err != nil && !errors.Is(err, eventlog.ErrStreamNotFound) {
		return ActionResult{}, fmt.Errorf("gate: read run: %w", err)
	}
	state := Fold(events, gateID, g.clock())

	if state.Phase.Terminal() {
		if state.Phase == outcome {
			return ActionResult{Status: StatusNoop, State: state}, nil
		}
		return ActionResult{Status: StatusConflict, State: state}, nil
	}

	kind := eventlog.KindApprovalGranted
	messageID := eventlog.ApprovalGrantedMessageID(runID, gateID)
	if outcome == PhaseDenied {
		kind = eventlog.KindApprovalDenied
		messageID = eventlog.ApprovalDeniedMessageID(runID, gateID)
	}

	ev := eventlog.Event{Kind: kind, Ts: g.clock(), TenantID: tenantID, RunID: runID, RitualID: ritualID, MessageID: messageID}
	ev, err = ev.WithFields(approvalFields{GateID: gateID, Approver: approver, Reason: reason})
	if err != nil {
		return ActionResult{}, fmt.Errorf("gate: encode terminal event: %w", err)
	}
	if _, err := g.log.Append(ctx, ev); err != nil {
		return ActionResult{}, fmt.Errorf("gate: emit terminal event: %w", err)
	}

	g.wheel.CancelByKey(expiryKey(runID, gateID))

	state.Phase = outcome
	state.Approver = approver
	state.Reason = reason
	g.metrics.IncCounter("demon_gate_decisions_total", 1, "outcome", string(outcome))
	return ActionResult{Status: StatusOK, State: state}, nil
}

// HandleExpiry processes one fired timer: if the gate is still Pending, it
// emits the one-shot auto-deny; if a terminal already exists (the dedup id
// would have made the emission a no-op anyway, but re-reading avoids an
// unnecessary publish), it does nothing.
func (g *Gate) HandleExpiry(ctx context.Context, tenantID string, t Timer) error {
	gateID, err := gateIDFromExpiryKey(t.Key)
	if err != nil {
		return err
	}

	events, err := g.log.ReadRun(ctx, tenantID, t.RitualID, t.RunID)
	if err != nil && !errors.Is(err, eventlog.ErrStreamNotFound) {
		return fmt.Errorf("gate: read run for expiry: %w", err)
	}
	state := Fold(events, gateID, g.clock())
	if state.Phase.Terminal() {
		return nil
	}

	ev := eventlog.Event{
		Kind:      eventlog.KindApprovalDenied,
		Ts:        g.clock(),
		TenantID:  tenantID,
		RunID:     t.RunID,
		RitualID:  t.RitualID,
		MessageID: eventlog.ApprovalAutoDeniedMessageID(t.RunID, gateID),
	}
	ev, err = ev.WithFields(approvalFields{GateID: gateID, Approver: "system", Reason: "expired"})
	if err != nil {
		return fmt.Errorf("gate: encode auto-deny: %w", err)
	}
	if _, err := g.log.Append(ctx, ev); err != nil {
		return err
	}
	g.metrics.IncCounter("demon_gate_decisions_total", 1, "outcome", string(PhaseExpired))
	return nil
}

// RunExpiryLoop ticks the wheel every interval, dispatching HandleExpiry for
// each fired timer, until ctx is canceled.
func (g *Gate) RunExpiryLoop(ctx context.Context, tenantID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, t := range g.wheel.Tick(now) {
				_ = g.HandleExpiry(ctx, tenantID, t)
			}
		}
	}
}

// Resume reconstructs gate phase for every gate observed in runID's event
// log and re-arms the expiry timer for any gate still Pending, using its
// remaining TTL rather than a fresh one. Called when the runner picks back
// up an in-flight run after a restart.
func (g *Gate) Resume(ctx context.Context, tenantID, runID, ritualID string) error {
	events, err := g.log.ReadRun(ctx, tenantID, ritualID, runID)
	if err != nil {
		if errors.Is(err, eventlog.ErrStreamNotFound) {
			return nil
		}
		return fmt.Errorf("gate: resume: read run: %w", err)
	}

	now := g.clock()
	seen := make(map[string]struct{})
	for _, ev := range events {
		if ev.Kind != eventlog.KindApprovalRequested {
			continue
		}
		var fields approvalFields
		if err := ev.StructFields(&fields); err != nil || fields.GateID == "" {
			continue
		}
		if _, ok := seen[fields.GateID]; ok {
			continue
		}
		seen[fields.GateID] = struct{}{}

		state := Fold(events, fields.GateID, now)
		if state.Phase != PhasePending {
			continue
		}
		due := now.Add(time.Duration(state.TTLSecondsRemaining) * time.Second)
		g.wheel.ScheduleWithKey(expiryKey(runID, fields.GateID), runID, ritualID, due)
	}
	return nil
}

func gateIDFromExpiryKey(key string) (string, error) {
	// key is "{runId}:approval:{gateId}:expiry"
	const prefix = ":approval:"
	const suffix = ":expiry"
	i := indexOf(key, prefix)
	if i < 0 || len(key) < len(suffix) || key[len(key)-len(suffix):] != suffix {
		return "", fmt.Errorf("gate: malformed timer key %q", key)
	}
	return key[i+len(prefix) : len(key)-len(suffix)], nil
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
