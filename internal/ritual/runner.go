package ritual

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/afewell-hh/demon/internal/engine"
	"github.com/afewell-hh/demon/internal/envelope"
	"github.com/afewell-hh/demon/internal/eventlog"
	"github.com/afewell-hh/demon/internal/telemetry"
	"github.com/afewell-hh/demon/internal/wards"
	"github.com/google/uuid"
)

// Runner ties together App Pack resolution, admission control, capsule
// dispatch, envelope validation, and run-record/event persistence for one
// ritual invocation end to end.
type Runner struct {
	registry  *Registry
	store     *RunStore
	wards     *wards.Engine
	log       *eventlog.Log
	engine    engine.Engine
	executor  CapsuleExecutor
	validator *envelope.Validator
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	tracer    telemetry.Tracer
	broker    *sseBroker

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// RunnerDeps wires a Runner's collaborators. Registry, Store and Wards are
// required. Executor, Engine, Metrics and Tracer default to a container-exec
// runner, an in-process engine, a noop recorder and a noop tracer
// respectively. Log, Validator and Logger may be nil, which skips lifecycle
// events, envelope validation and failure logging respectively.
type RunnerDeps struct {
	Registry  *Registry
	Store     *RunStore
	Wards     *wards.Engine
	Log       *eventlog.Log
	Engine    engine.Engine
	Executor  CapsuleExecutor
	Validator *envelope.Validator
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Tracer    telemetry.Tracer
}

// NewRunner constructs a Runner from deps, filling in defaults for Engine,
// Executor, Metrics and Tracer when left nil.
func NewRunner(deps RunnerDeps) *Runner {
	if deps.Engine == nil {
		deps.Engine = engine.NewInmem()
	}
	if deps.Executor == nil {
		deps.Executor = NewContainerExecRunner()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewNoopMetrics()
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.NewNoopTracer()
	}
	return &Runner{
		registry:  deps.Registry,
		store:     deps.Store,
		wards:     deps.Wards,
		log:       deps.Log,
		engine:    deps.Engine,
		executor:  deps.Executor,
		validator: deps.Validator,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		broker:    newSSEBroker(),
		cancels:   map[string]context.CancelFunc{},
	}
}

// ScheduleRun resolves appName/version's ritualName invocation, persists a
// Running run record, and dispatches the capsule asynchronously. It returns
// as soon as the record is durably stored, mirroring the fire-and-forget
// scheduling shape of the service this adapts: callers poll or subscribe to
// the run's SSE stream for completion.
//
// If idempotencyKey is non-empty and already associated with a prior
// invocation of the same (app, ritual), that prior run is returned instead
// of starting a new one.
func (r *Runner) ScheduleRun(ctx context.Context, app, version, ritualName string, parameters map[string]interface{}, tenantID, idempotencyKey string) (RunRecord, error) {
	if existing, ok := r.store.LookupIdempotencyKey(app, ritualName, idempotencyKey); ok {
		return r.store.Get(existing)
	}

	resolvedInvocation, err := r.registry.ResolveInvocation(app, version, ritualName)
	if err != nil {
		return RunRecord{}, err
	}

	runID := uuid.NewString()
	plan := buildExecutionPlan(resolvedInvocation.resolved, parameters, runID)

	now := time.Now().UTC()
	record := RunRecord{
		RunID:          runID,
		App:            app,
		Ritual:         ritualName,
		Version:        resolvedInvocation.resolved.manifest.Metadata.Version,
		Status:         StatusRunning,
		CreatedAt:      now,
		UpdatedAt:      now,
		Parameters:     parameters,
		IdempotencyKey: idempotencyKey,
	}
	if err := r.store.Insert(record); err != nil {
		return RunRecord{}, err
	}

	seq := new(int64)

	r.metrics.IncCounter("demon_ritual_runs_started_total", 1, "app", app, "ritual", ritualName)

	r.emitLifecycle(ctx, eventlog.KindRitualStarted, tenantID, runID, plan.RitualID, seq, map[string]interface{}{
		"app":    app,
		"ritual": ritualName,
	})
	r.broker.publishStatus(runID, record)

	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancels[runID] = cancel
	r.mu.Unlock()

	go r.execute(runCtx, tenantID, record, resolvedInvocation.resolved.capsule, plan, seq)

	return record, nil
}

// execute runs the capsule to completion (or cancellation) and persists the
// terminal state.
func (r *Runner) execute(ctx context.Context, tenantID string, record RunRecord, capsule CapsuleEntry, plan ExecutionPlan, seq *int64) {
	defer func() {
		r.mu.Lock()
		delete(r.cancels, record.RunID)
		r.mu.Unlock()
	}()

	decision, err := r.wards.Decide(ctx, tenantID, string(plan.CapsuleRef), record.RunID, plan.RitualID)
	if err != nil {
		r.fail(ctx, tenantID, record, plan, seq, fmt.Errorf("admission check: %w", err))
		return
	}
	if !decision.Allowed {
		r.fail(ctx, tenantID, record, plan, seq, fmt.Errorf("denied by policy: %s", decision.Reason))
		return
	}

	timeout := time.Duration(capsule.TimeoutSeconds) * time.Second
	activity := func(actCtx context.Context) ([]byte, error) {
		result, err := r.executor.Execute(actCtx, capsule, plan.Arguments)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	}

	spanCtx, span := r.tracer.Start(ctx, "ritual.capsule_dispatch")
	out, err := r.engine.RunActivity(spanCtx, string(plan.CapsuleRef), timeout, activity)
	span.SetError(err)
	span.End()
	if err != nil {
		if ctx.Err() == context.Canceled {
			r.cancelRecord(ctx, tenantID, record, plan, seq)
			return
		}
		r.fail(ctx, tenantID, record, plan, seq, err)
		return
	}

	var resultEnvelope map[string]interface{}
	if err := json.Unmarshal(out, &resultEnvelope); err != nil {
		r.fail(ctx, tenantID, record, plan, seq, fmt.Errorf("decode capsule envelope: %w", err))
		return
	}

	if r.validator != nil {
		if violations := r.validator.ValidateValue(resultEnvelope); len(violations) > 0 {
			r.fail(ctx, tenantID, record, plan, seq, fmt.Errorf("capsule envelope failed schema validation: %v", violations))
			return
		}
	}

	r.complete(ctx, tenantID, record, plan, seq, resultEnvelope)
}

func (r *Runner) complete(ctx context.Context, tenantID string, record RunRecord, plan ExecutionPlan, seq *int64, resultEnvelope map[string]interface{}) {
	now := time.Now().UTC()
	var updated RunRecord
	_ = r.store.Update(record.RunID, func(rec RunRecord) RunRecord {
		rec.Status = StatusCompleted
		rec.UpdatedAt = now
		rec.CompletedAt = &now
		rec.ResultEnvelope = resultEnvelope
		updated = rec
		return rec
	})
	r.metrics.IncCounter("demon_ritual_runs_completed_total", 1, "app", record.App, "ritual", record.Ritual)
	r.metrics.RecordTimer("demon_ritual_run_duration_seconds", now.Sub(record.CreatedAt), "app", record.App, "ritual", record.Ritual, "status", string(StatusCompleted))

	r.emitLifecycle(ctx, eventlog.KindRitualCompleted, tenantID, record.RunID, plan.RitualID, seq, map[string]interface{}{
		"app":    record.App,
		"ritual": record.Ritual,
	})
	r.broker.publishStatus(record.RunID, updated)
	r.broker.publishEnvelope(record.RunID, resultEnvelope)
	r.broker.closeRun(record.RunID)
}

func (r *Runner) fail(ctx context.Context, tenantID string, record RunRecord, plan ExecutionPlan, seq *int64, cause error) {
	now := time.Now().UTC()
	var updated RunRecord
	_ = r.store.Update(record.RunID, func(rec RunRecord) RunRecord {
		rec.Status = StatusFailed
		rec.UpdatedAt = now
		rec.CompletedAt = &now
		rec.Error = cause.Error()
		updated = rec
		return rec
	})
	if r.logger != nil {
		r.logger.Error(ctx, "ritual run failed", "runId", record.RunID, "error", cause)
	}
	r.metrics.IncCounter("demon_ritual_runs_failed_total", 1, "app", record.App, "ritual", record.Ritual)
	r.metrics.RecordTimer("demon_ritual_run_duration_seconds", now.Sub(record.CreatedAt), "app", record.App, "ritual", record.Ritual, "status", string(StatusFailed))

	r.emitLifecycle(ctx, eventlog.KindRitualFailed, tenantID, record.RunID, plan.RitualID, seq, map[string]interface{}{
		"app":    record.App,
		"ritual": record.Ritual,
		"error":  cause.Error(),
	})
	r.broker.publishStatus(record.RunID, updated)
	r.broker.closeRun(record.RunID)
}

func (r *Runner) cancelRecord(ctx context.Context, tenantID string, record RunRecord, plan ExecutionPlan, seq *int64) {
	now := time.Now().UTC()
	var updated RunRecord
	_ = r.store.Update(record.RunID, func(rec RunRecord) RunRecord {
		rec.Status = StatusCanceled
		rec.UpdatedAt = now
		rec.CompletedAt = &now
		updated = rec
		return rec
	})
	r.metrics.IncCounter("demon_ritual_runs_canceled_total", 1, "app", record.App, "ritual", record.Ritual)

	r.emitLifecycle(ctx, eventlog.KindRitualStateTransitioned, tenantID, record.RunID, plan.RitualID, seq, map[string]interface{}{
		"app":    record.App,
		"ritual": record.Ritual,
		"state":  string(StatusCanceled),
	})
	r.broker.publishStatus(record.RunID, updated)
	// A canceled run never emits an envelope frame, even if the capsule had
	// already produced output before the cancellation landed.
	r.broker.closeRun(record.RunID)
}

// Cancel requests cooperative cancellation of runID's in-flight capsule. It
// is a no-op (returning nil) if the run is not currently running.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, ok := r.cancels[runID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	cancel()
	return nil
}

// emitLifecycle appends one monotonically-sequenced lifecycle event for
// runID, logging but not returning append failures — a dropped lifecycle
// event must never abort the run it describes.
func (r *Runner) emitLifecycle(ctx context.Context, kind eventlog.Kind, tenantID, runID, ritualID string, seq *int64, fields map[string]interface{}) {
	if r.log == nil {
		return
	}
	n := atomic.AddInt64(seq, 1)
	ev := eventlog.Event{
		Kind:      kind,
		Ts:        time.Now().UTC(),
		TenantID:  tenantID,
		RunID:     runID,
		RitualID:  ritualID,
		MessageID: eventlog.RitualLifecycleMessageID(runID, n),
	}
	ev, err := ev.WithFields(fields)
	if err != nil {
		if r.logger != nil {
			r.logger.Error(ctx, "failed to encode lifecycle event fields", "runId", runID, "kind", kind, "error", err)
		}
		return
	}
	if _, err := r.log.Append(ctx, ev); err != nil {
		if r.logger != nil {
			r.logger.Error(ctx, "failed to append lifecycle event", "runId", runID, "kind", kind, "error", err)
		}
	}
}
