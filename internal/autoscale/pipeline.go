package autoscale

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/afewell-hh/demon/internal/telemetry"
)

// Pipeline owns one FSM per tenant and publishes a hint whenever a sample's
// recommendation should be emitted.
type Pipeline struct {
	mu         sync.Mutex
	thresholds Thresholds
	minSignals int
	clock      func() time.Time
	fsms       map[string]*FSM
	publisher  *Publisher
	metrics    telemetry.Metrics
}

// NewPipeline constructs a Pipeline. publisher may be nil for tests that only
// exercise FSM decisions.
func NewPipeline(thresholds Thresholds, minSignalsForTransition int, publisher *Publisher) *Pipeline {
	return &Pipeline{
		thresholds: thresholds,
		minSignals: minSignalsForTransition,
		clock:      time.Now,
		fsms:       make(map[string]*FSM),
		publisher:  publisher,
		metrics:    telemetry.NewNoopMetrics(),
	}
}

// WithMetrics attaches a Metrics recorder for scale-hint emission counters.
func (p *Pipeline) WithMetrics(m telemetry.Metrics) *Pipeline {
	p.metrics = m
	return p
}

// Sample feeds m through tenantID's FSM and publishes a hint event if the
// resulting recommendation should be emitted. It returns the recommendation
// regardless of whether a hint was actually published.
func (p *Pipeline) Sample(ctx context.Context, tenantID string, m Metrics, traceID string) (Recommendation, error) {
	fsm := p.fsmFor(tenantID)
	rec, emit, reason := fsm.Sample(m)
	if !emit || p.publisher == nil {
		return rec, nil
	}

	hint := HintEvent{
		TenantID:       tenantID,
		Recommendation: rec,
		Metrics:        m,
		Thresholds:     p.thresholds,
		Hysteresis:     fsm.Snapshot(),
		Reason:         reason,
		TraceID:        traceID,
	}
	if err := p.publisher.Publish(ctx, hint); err != nil {
		return rec, fmt.Errorf("autoscale: publish hint for %s: %w", tenantID, err)
	}
	p.metrics.IncCounter("demon_autoscale_hints_emitted_total", 1, "tenant", tenantID, "recommendation", string(rec))
	return rec, nil
}

func (p *Pipeline) fsmFor(tenantID string) *FSM {
	p.mu.Lock()
	defer p.mu.Unlock()
	fsm, ok := p.fsms[tenantID]
	if !ok {
		fsm = NewFSM(p.thresholds, p.minSignals, p.clock)
		p.fsms[tenantID] = fsm
	}
	return fsm
}
