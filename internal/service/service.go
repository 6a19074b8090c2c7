// Package service wires every orchestration-core component into one running
// HTTP server, shared by the demond entrypoint and demonctl's serve
// subcommand so both expose identical behavior.
package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/afewell-hh/demon/internal/autoscale"
	"github.com/afewell-hh/demon/internal/config"
	"github.com/afewell-hh/demon/internal/engine"
	"github.com/afewell-hh/demon/internal/engine/temporal"
	"github.com/afewell-hh/demon/internal/envelope"
	"github.com/afewell-hh/demon/internal/eventlog"
	"github.com/afewell-hh/demon/internal/gate"
	"github.com/afewell-hh/demon/internal/graph"
	"github.com/afewell-hh/demon/internal/httpapi"
	"github.com/afewell-hh/demon/internal/ritual"
	"github.com/afewell-hh/demon/internal/telemetry"
	"github.com/afewell-hh/demon/internal/telemetry/prom"
	"github.com/afewell-hh/demon/internal/wards"
)

// Serve builds every component from cfg and blocks serving HTTP on httpAddr
// until ctx is canceled (by the caller) or interrupt is closed (both
// entrypoints close it on SIGINT/SIGTERM), then drains in-flight work and
// shuts down gracefully.
// engineLogger, if its sink is set, is handed to the Temporal engine (when
// cfg.EngineBackend selects it) for worker-internal diagnostic logging; the
// in-memory engine ignores it entirely.
func Serve(ctx context.Context, cfg config.Config, logger telemetry.Logger, engineLogger logr.Logger, httpAddr string, interrupt <-chan struct{}) error {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.NATSURL})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("service: connect redis: %w", err)
	}

	broker, err := eventlog.NewBroker(eventlog.BrokerOptions{Redis: rdb})
	if err != nil {
		return fmt.Errorf("service: build broker: %w", err)
	}

	log, err := eventlog.New(eventlog.Options{
		Broker:      broker,
		Redis:       rdb,
		StreamName:  cfg.RitualStreamName,
		Tenanted:    cfg.TenantingEnabled,
		DualPublish: cfg.TenantDualPublish,
	})
	if err != nil {
		return fmt.Errorf("service: build event log: %w", err)
	}
	if err := log.EnsureStream(ctx); err != nil {
		return fmt.Errorf("service: ensure ritual stream: %w", err)
	}

	graphStore, err := graph.New(graph.Options{Broker: broker, Redis: rdb})
	if err != nil {
		return fmt.Errorf("service: build graph store: %w", err)
	}

	tracerProvider := sdktrace.NewTracerProvider()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tracerProvider.Shutdown(shutdownCtx)
	}()
	otel.SetTracerProvider(tracerProvider)
	tracer := telemetry.NewTracer(otel.Tracer("github.com/afewell-hh/demon"))

	promRegistry := prometheus.NewRegistry()
	metrics := telemetry.NewPrometheusMetrics(prom.New(promRegistry))

	wardsEngine := wards.NewEngine(cfg.Wards, log).
		WithSecretResolver(wards.ChainSecretResolver{wards.EnvSecretResolver{}}).
		WithMetrics(metrics)

	wheel := gate.NewWheel()
	approvalGate := gate.New(gate.Options{
		Log:               log,
		Wheel:             wheel,
		TTL:               time.Duration(cfg.ApprovalTTLSeconds) * time.Second,
		ApproverAllowlist: cfg.ApproverAllowlist,
		Metrics:           metrics,
	})

	registry, err := ritual.NewRegistry(cfg.DemonAppHome)
	if err != nil {
		return fmt.Errorf("service: build app pack registry: %w", err)
	}
	store, err := ritual.OpenDefaultRunStore()
	if err != nil {
		return fmt.Errorf("service: open run store: %w", err)
	}
	validator, err := envelope.NewDefaultValidator()
	if err != nil {
		return fmt.Errorf("service: build envelope validator: %w", err)
	}

	capsuleEngine, closeEngine, err := buildEngine(cfg, engineLogger)
	if err != nil {
		return fmt.Errorf("service: build capsule engine: %w", err)
	}
	if closeEngine != nil {
		defer closeEngine()
	}

	runner := ritual.NewRunner(ritual.RunnerDeps{
		Registry:  registry,
		Store:     store,
		Wards:     wardsEngine,
		Log:       log,
		Engine:    capsuleEngine,
		Validator: validator,
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer,
	})

	publisher, err := autoscale.NewPublisher(autoscale.PublisherOptions{Broker: broker, Redis: rdb})
	if err != nil {
		return fmt.Errorf("service: build scale hint publisher: %w", err)
	}
	if err := publisher.EnsureStream(ctx); err != nil {
		return fmt.Errorf("service: ensure scale hints stream: %w", err)
	}

	var scaleClient autoscale.Client = autoscale.LogOnlyClient{Logger: logger}
	if cfg.ScaleHintClientEndpoint != "" {
		scaleClient = autoscale.HTTPClient{
			Endpoint:         cfg.ScaleHintClientEndpoint,
			RetryBackoffMs:   cfg.ScaleHintRetryBackoffMs,
			MaxRetryAttempts: cfg.ScaleHintMaxRetryAttempts,
		}
	}
	consumer := autoscale.NewConsumer(autoscale.ConsumerOptions{
		Broker:           broker,
		Client:           scaleClient,
		Logger:           logger,
		RetryBackoffMs:   cfg.ScaleHintRetryBackoffMs,
		MaxRetryAttempts: cfg.ScaleHintMaxRetryAttempts,
	})
	pipeline := autoscale.NewPipeline(cfg.ScaleHintThresholds, 2, publisher).WithMetrics(metrics)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		approvalGate.RunExpiryLoop(ctx, cfg.TenantDefault, time.Second)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error(ctx, "scale hint consumer stopped", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sampleRuntimeHealth(ctx, log, pipeline, cfg.TenantDefault, logger)
	}()

	resumePendingGates(ctx, log, approvalGate, cfg.TenantDefault, logger)

	router := httpapi.NewRouter(httpapi.Deps{
		Runner:         runner,
		Gate:           approvalGate,
		Graph:          graphStore,
		Events:         log,
		Logger:         logger,
		DefaultTenant:  cfg.TenantDefault,
		MetricsHandler: promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{Addr: httpAddr, Handler: router}

	errc := make(chan error, 1)
	go func() {
		logger.Info(ctx, "listening", "addr", httpAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
			return
		}
		errc <- nil
	}()

	select {
	case <-interrupt:
		logger.Info(ctx, "received signal, shutting down")
	case <-ctx.Done():
		logger.Info(ctx, "context canceled, shutting down")
	case err := <-errc:
		cancel()
		wg.Wait()
		if err != nil {
			return fmt.Errorf("service: http server: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		cancel()
		wg.Wait()
		return fmt.Errorf("service: graceful shutdown: %w", err)
	}

	cancel()
	wg.Wait()
	return <-errc
}

// buildEngine constructs the capsule-dispatch engine selected by
// cfg.EngineBackend. The returned close func, if non-nil, must be deferred
// by the caller to release backend resources (currently only the Temporal
// client needs this).
func buildEngine(cfg config.Config, engineLogger logr.Logger) (engine.Engine, func(), error) {
	switch cfg.EngineBackend {
	case "temporal":
		te, err := temporal.New(temporal.Options{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
			TaskQueue: cfg.TemporalTaskQueue,
			Logger:    engineLogger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build temporal engine: %w", err)
		}
		return te, te.Close, nil
	default:
		return engine.NewInmem(), nil, nil
	}
}

// resumePendingGates re-arms the expiry timer for any still-running run's
// approval gates, using the recent-runs summary as the reconciliation source
// of truth after a restart.
func resumePendingGates(ctx context.Context, log *eventlog.Log, g *gate.Gate, tenantID string, logger telemetry.Logger) {
	summaries, err := log.ListRecentRuns(ctx, 500)
	if err != nil {
		logger.Warn(ctx, "skipping gate resume: list recent runs failed", "error", err)
		return
	}
	for _, s := range summaries {
		if s.Status != string(ritual.StatusRunning) {
			continue
		}
		if err := g.Resume(ctx, s.TenantID, s.RunID, s.RitualID); err != nil {
			logger.Warn(ctx, "resume gate failed", "runId", s.RunID, "error", err)
		}
	}
}

// sampleRuntimeHealth periodically approximates the capsule worker pool's
// health from the run log (in-flight run count as queue lag, recent failure
// ratio as error rate) and feeds it to the autoscale pipeline. A dedicated
// worker-pool metrics source (real p95 latency, true queue depth) is future
// work; this keeps the pipeline genuinely driven rather than dormant.
func sampleRuntimeHealth(ctx context.Context, log *eventlog.Log, pipeline *autoscale.Pipeline, tenantID string, logger telemetry.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summaries, err := log.ListRecentRuns(ctx, 500)
			if err != nil {
				continue
			}
			var running, failed, terminal uint64
			for _, s := range summaries {
				switch s.Status {
				case string(ritual.StatusRunning), string(ritual.StatusPending):
					running++
				case string(ritual.StatusFailed):
					failed++
					terminal++
				case string(ritual.StatusCompleted):
					terminal++
				}
			}
			var errorRate float64
			if terminal > 0 {
				errorRate = float64(failed) / float64(terminal)
			}
			m := autoscale.Metrics{
				QueueLag:       running,
				ErrorRate:      errorRate,
				TotalProcessed: terminal,
				TotalErrors:    failed,
			}
			if _, err := pipeline.Sample(ctx, tenantID, m, ""); err != nil {
				logger.Warn(ctx, "autoscale sample failed", "error", err)
			}
		}
	}
}
