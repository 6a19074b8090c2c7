// Package telemetry defines narrow logging, metrics, and tracing facades used
// throughout the orchestration core so call sites never import zap,
// prometheus, or otel directly.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured log lines keyed by alternating key/value pairs.
	Logger interface {
		Debug(ctx context.Context, msg string, kv ...any)
		Info(ctx context.Context, msg string, kv ...any)
		Warn(ctx context.Context, msg string, kv ...any)
		Error(ctx context.Context, msg string, kv ...any)
	}

	// Metrics records counters, timers, and gauges for the core's components.
	Metrics interface {
		IncCounter(name string, value float64, labels ...string)
		RecordTimer(name string, d time.Duration, labels ...string)
		RecordGauge(name string, value float64, labels ...string)
	}

	// Tracer opens spans around suspension points (broker I/O, HTTP calls,
	// timer waits) so provenance chains can carry trace/span ids.
	Tracer interface {
		Start(ctx context.Context, name string) (context.Context, Span)
	}

	// Span is a single unit of tracing work.
	Span interface {
		End()
		SetError(err error)
		TraceID() string
		SpanID() string
	}
)

// otelSpan adapts an OpenTelemetry span to the Span facade.
type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End() { s.span.End() }

func (s otelSpan) SetError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
}

func (s otelSpan) TraceID() string {
	sc := s.span.SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func (s otelSpan) SpanID() string {
	sc := s.span.SpanContext()
	if !sc.HasSpanID() {
		return ""
	}
	return sc.SpanID().String()
}

// otelTracer wraps an OpenTelemetry tracer.
type otelTracer struct {
	tracer trace.Tracer
}

// NewTracer builds a Tracer backed by the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return otelTracer{tracer: t}
}

func (t otelTracer) Start(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, otelSpan{span: span}
}
