package wards

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/afewell-hh/demon/internal/eventlog"
	"github.com/afewell-hh/demon/internal/telemetry"
	"golang.org/x/time/rate"
)

// DecisionReason enumerates why a PolicyDecision came out the way it did.
type DecisionReason string

const (
	ReasonAllowed               DecisionReason = "allowed"
	ReasonCapabilityNotAllowed  DecisionReason = "capability_not_allowed"
	ReasonQuotaExceeded         DecisionReason = "quota_exceeded"
	ReasonTimePolicyDenied      DecisionReason = "time_policy_denied"
	ReasonConfigValidationFailed DecisionReason = "config_validation_failed"
	ReasonSecretNotFound        DecisionReason = "secret_not_found"
)

// Decision is the outcome of an admission check for one (tenant, capability)
// call.
type Decision struct {
	Allowed   bool
	Reason    DecisionReason
	Quota     QuotaState
	EmittedAt time.Time
}

// QuotaState reports the quota considered for a decision.
type QuotaState struct {
	Limit         int `json:"limit"`
	WindowSeconds int `json:"windowSeconds"`
	Remaining     int `json:"remaining"`
}

// Engine is the policy kernel: it combines capability allowlisting, optional
// schedule windows, and sliding-window quotas into a single admission
// Decide call, emitting a policy.decision:v1 event for every call.
type Engine struct {
	cfg      Config
	counter  *QuotaCounter
	log      *eventlog.Log
	clock    func() time.Time
	limiters *limiterSet
	secrets  SecretResolver
	metrics  telemetry.Metrics
}

// NewEngine constructs an Engine from cfg. log may be nil, in which case
// Decide still evaluates admission but skips event emission (used in unit
// tests that exercise the kernel in isolation).
func NewEngine(cfg Config, log *eventlog.Log) *Engine {
	return &Engine{
		cfg:      cfg,
		counter:  NewQuotaCounter(nil),
		log:      log,
		clock:    time.Now,
		limiters: newLimiterSet(),
		metrics:  telemetry.NewNoopMetrics(),
	}
}

// WithMetrics attaches a Metrics recorder for policy-decision counters.
// Returns e for chaining alongside WithSecretResolver.
func (e *Engine) WithMetrics(m telemetry.Metrics) *Engine {
	e.metrics = m
	return e
}

// Decide evaluates admission for (tenant, capability) and emits the
// corresponding policy.decision:v1 event (deduplicated per call) before
// returning. runID/ritualID scope the emitted event to the calling run.
func (e *Engine) Decide(ctx context.Context, tenantID, capability, runID, ritualID string) (Decision, error) {
	now := e.clock()

	if !e.capabilityAllowed(capability) {
		d := Decision{Allowed: false, Reason: ReasonCapabilityNotAllowed, EmittedAt: now}
		return d, e.emit(ctx, tenantID, capability, runID, ritualID, d)
	}

	if allowed, err := e.cfg.Schedule.EvaluateAt(tenantID, capability, now); err != nil {
		d := Decision{Allowed: false, Reason: ReasonConfigValidationFailed, EmittedAt: now}
		_ = e.emit(ctx, tenantID, capability, runID, ritualID, d)
		return d, fmt.Errorf("wards: evaluate schedule: %w", err)
	} else if allowed != nil && !*allowed {
		d := Decision{Allowed: false, Reason: ReasonTimePolicyDenied, EmittedAt: now}
		return d, e.emit(ctx, tenantID, capability, runID, ritualID, d)
	}

	// Auxiliary token-bucket pre-filter: a defense-in-depth fast-path guard
	// in front of the authoritative sliding-window count, absorbing bursts
	// without itself being the quota decision of record.
	if !e.limiters.allow(tenantID, capability) {
		quota := e.cfg.Quotas.Effective(tenantID, capability)
		d := Decision{
			Allowed:   false,
			Reason:    ReasonQuotaExceeded,
			Quota:     QuotaState{Limit: quota.Limit, WindowSeconds: quota.WindowSeconds, Remaining: 0},
			EmittedAt: now,
		}
		return d, e.emit(ctx, tenantID, capability, runID, ritualID, d)
	}

	quota := e.cfg.Quotas.Effective(tenantID, capability)
	key := tenantID + ":" + capability
	allowed, remaining := e.counter.CheckAndConsume(key, quota)
	if !allowed {
		d := Decision{
			Allowed:   false,
			Reason:    ReasonQuotaExceeded,
			Quota:     QuotaState{Limit: quota.Limit, WindowSeconds: quota.WindowSeconds, Remaining: 0},
			EmittedAt: now,
		}
		return d, e.emit(ctx, tenantID, capability, runID, ritualID, d)
	}

	d := Decision{
		Allowed:   true,
		Reason:    ReasonAllowed,
		Quota:     QuotaState{Limit: quota.Limit, WindowSeconds: quota.WindowSeconds, Remaining: remaining},
		EmittedAt: now,
	}
	return d, e.emit(ctx, tenantID, capability, runID, ritualID, d)
}

func (e *Engine) capabilityAllowed(capability string) bool {
	if len(e.cfg.Caps) == 0 {
		return true
	}
	for _, c := range e.cfg.Caps {
		if c == capability {
			return true
		}
	}
	return false
}

func (e *Engine) emit(ctx context.Context, tenantID, capability, runID, ritualID string, d Decision) error {
	e.metrics.IncCounter("demon_wards_policy_decisions_total", 1, "capability", capability, "reason", string(d.Reason))

	if e.log == nil {
		return nil
	}
	ev := eventlog.Event{
		Kind:      eventlog.KindPolicyDecision,
		Ts:        d.EmittedAt,
		TenantID:  tenantID,
		RunID:     runID,
		RitualID:  ritualID,
		MessageID: eventlog.PolicyDecisionMessageID(runID, capability, d.EmittedAt.UnixNano()),
	}
	ev, err := ev.WithFields(struct {
		Allowed bool           `json:"allowed"`
		Reason  DecisionReason `json:"reason"`
		Quota   QuotaState     `json:"quota"`
	}{Allowed: d.Allowed, Reason: d.Reason, Quota: d.Quota})
	if err != nil {
		return fmt.Errorf("wards: encode policy decision: %w", err)
	}
	if _, err := e.log.Append(ctx, ev); err != nil {
		return fmt.Errorf("wards: emit policy decision: %w", err)
	}
	return nil
}

// limiterSet lazily creates a token-bucket rate.Limiter per (tenant,
// capability) key, used only as the auxiliary burst guard ahead of the
// authoritative sliding-window quota.
type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLimiterSet() *limiterSet {
	return &limiterSet{limiters: make(map[string]*rate.Limiter)}
}

func (s *limiterSet) allow(tenantID, capability string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tenantID + ":" + capability
	l, ok := s.limiters[key]
	if !ok {
		// Generous burst-absorbing limiter: the sliding-window quota is the
		// decision of record, so this only needs to reject pathological
		// floods, not enforce the configured limit itself.
		l = rate.NewLimiter(rate.Limit(50), 100)
		s.limiters[key] = l
	}
	return l.Allow()
}
