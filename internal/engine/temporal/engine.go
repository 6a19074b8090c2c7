// Package temporal adapts engine.Engine onto a Temporal worker and client,
// the durable-execution backend for capsule dispatch in production. Unlike
// engine.Inmem, activities here are registered ahead of time by name —
// Temporal cannot ship an arbitrary Go closure to a worker process, so the
// caller must pre-register every capsule-ref it intends to dispatch via
// RunActivity before starting the worker.
package temporal

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	enumspb "go.temporal.io/api/enums/v1"

	"github.com/afewell-hh/demon/internal/engine"
	"github.com/afewell-hh/demon/internal/telemetry"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

const runCapsuleWorkflowName = "demon.ritual.runCapsuleActivity"

// Engine runs capsule activities through a Temporal worker, giving capsule
// dispatch the same crash-safe resumability Temporal gives any other
// workflow: a worker restart mid-activity resumes from Temporal's own retry,
// not from scratch.
type Engine struct {
	client     client.Client
	taskQueue  string
	w          worker.Worker
	registered map[string]struct{}
	metrics    telemetry.Metrics
}

// Options configures an Engine.
type Options struct {
	// HostPort is the Temporal frontend address, e.g. "temporal:7233".
	HostPort  string
	Namespace string
	TaskQueue string
	// Logger, if set, receives the worker's own diagnostic logging through
	// the logr bridge rather than falling back to Temporal's default
	// stdlib-backed logger.
	Logger logr.Logger
}

// New dials the Temporal frontend and creates a worker on opts.TaskQueue;
// the worker polls only once Start is called.
// Call RegisterActivity for every capsuleRef the caller will dispatch before
// Start. Workflow/activity tracing and metrics are wired automatically
// through the OTEL interceptor the Temporal SDK ships, using the process's
// global TracerProvider/MeterProvider (internal/service.Serve installs the
// TracerProvider with otel.SetTracerProvider; no MeterProvider is installed,
// so the OTEL global default applies).
func New(opts Options) (*Engine, error) {
	tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{
		Tracer: otel.Tracer("github.com/afewell-hh/demon/internal/engine/temporal"),
	})
	if err != nil {
		return nil, fmt.Errorf("engine/temporal: configure tracing interceptor: %w", err)
	}
	meter := otel.Meter("github.com/afewell-hh/demon/internal/engine/temporal")
	metricsHandler := temporalotel.NewMetricsHandler(temporalotel.MetricsHandlerOptions{Meter: meter})

	clientOpts := client.Options{
		HostPort:       opts.HostPort,
		Namespace:      opts.Namespace,
		Interceptors:   []interceptor.ClientInterceptor{tracer},
		MetricsHandler: metricsHandler,
	}
	c, err := client.Dial(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("engine/temporal: dial client: %w", err)
	}
	queue := opts.TaskQueue
	if queue == "" {
		queue = "demon-ritual-capsules"
	}
	workerOpts := worker.Options{
		Interceptors: []interceptor.WorkerInterceptor{tracer},
	}
	if opts.Logger.GetSink() != nil {
		workerOpts.Logger = NewLogger(opts.Logger)
	}
	e := &Engine{
		client:     c,
		taskQueue:  queue,
		w:          worker.New(c, queue, workerOpts),
		registered: make(map[string]struct{}),
		metrics:    telemetry.NewOtelMetrics(meter),
	}
	e.w.RegisterWorkflowWithOptions(runCapsuleWorkflow, workflow.RegisterOptions{Name: runCapsuleWorkflowName})
	return e, nil
}

// RegisterActivity binds name (a capsuleRef) to fn on this engine's worker.
// Must be called before Start.
func (e *Engine) RegisterActivity(name string, fn func(ctx context.Context, input []byte) ([]byte, error)) {
	e.w.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
	e.registered[name] = struct{}{}
}

// Start begins polling the task queue. Blocks until ctx is canceled.
func (e *Engine) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		e.w.Stop()
	}()
	return e.w.Run(worker.InterruptCh())
}

// Close releases the underlying Temporal client.
func (e *Engine) Close() { e.client.Close() }

type runCapsuleInput struct {
	ActivityName   string
	Input          []byte
	TimeoutSeconds int64
}

// RunActivity starts (and waits for) a one-activity workflow that invokes
// the activity registered under name. name must have been registered via
// RegisterActivity on some worker sharing this engine's task queue.
func (e *Engine) RunActivity(ctx context.Context, name string, timeout time.Duration, activityFn engine.Activity) ([]byte, error) {
	// activityFn is accepted to satisfy engine.Engine's signature and to let
	// callers share code with engine.Inmem; the Temporal backend ignores it
	// and instead dispatches to the activity already registered under name,
	// since only that is shippable to a remote worker.
	_ = activityFn

	workflowID := fmt.Sprintf("capsule-%s-%d", name, time.Now().UnixNano())
	run, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: e.taskQueue,
		// Every call computes a fresh, timestamped workflow ID, so a
		// collision only happens if a prior run with the exact same ID is
		// still executing; reject rather than silently terminating it.
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, runCapsuleWorkflowName, runCapsuleInput{
		ActivityName:   name,
		TimeoutSeconds: int64(timeout / time.Second),
	})
	if err != nil {
		e.metrics.IncCounter("demon_temporal_capsule_dispatch_total", 1, "capsule", name, "outcome", "start_failed")
		return nil, fmt.Errorf("engine/temporal: start workflow: %w", err)
	}

	start := time.Now()
	var out []byte
	if err := run.Get(ctx, &out); err != nil {
		e.metrics.RecordTimer("demon_temporal_capsule_dispatch_duration_seconds", time.Since(start), "capsule", name, "outcome", "failed")
		e.metrics.IncCounter("demon_temporal_capsule_dispatch_total", 1, "capsule", name, "outcome", "failed")
		return nil, fmt.Errorf("engine/temporal: workflow failed: %w", err)
	}
	e.metrics.RecordTimer("demon_temporal_capsule_dispatch_duration_seconds", time.Since(start), "capsule", name, "outcome", "succeeded")
	e.metrics.IncCounter("demon_temporal_capsule_dispatch_total", 1, "capsule", name, "outcome", "succeeded")
	return out, nil
}

func runCapsuleWorkflow(ctx workflow.Context, input runCapsuleInput) ([]byte, error) {
	timeout := time.Duration(input.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	actx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
	})
	var out []byte
	err := workflow.ExecuteActivity(actx, input.ActivityName, input.Input).Get(actx, &out)
	return out, err
}
