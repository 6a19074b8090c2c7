package telemetry

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// zapLogger adapts a zap.SugaredLogger to the Logger facade.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger builds a Logger backed by the given zap logger.
func NewZapLogger(l *zap.Logger) Logger {
	return zapLogger{sugar: l.Sugar()}
}

// NewZapLogrLogger bridges the same zap logger to logr.Logger, for the rare
// component (the Temporal engine's worker) that takes a logr.Logger directly
// instead of this package's Logger facade. Callers should still log through
// Logger everywhere else, so the process has one configured zap logger
// feeding both shapes rather than two independently configured ones.
func NewZapLogrLogger(l *zap.Logger) logr.Logger {
	return zapr.NewLogger(l)
}

func (l zapLogger) Debug(_ context.Context, msg string, kv ...any) { l.sugar.Debugw(msg, kv...) }
func (l zapLogger) Info(_ context.Context, msg string, kv ...any)  { l.sugar.Infow(msg, kv...) }
func (l zapLogger) Warn(_ context.Context, msg string, kv ...any)  { l.sugar.Warnw(msg, kv...) }
func (l zapLogger) Error(_ context.Context, msg string, kv ...any) { l.sugar.Errorw(msg, kv...) }

// PrometheusMetrics records metrics into a prometheus registry using
// dynamically registered vectors keyed by metric name. It is intentionally
// small: the core emits a bounded, known set of metric names (policy
// decisions, gate transitions, autoscale emissions, run lifecycle).
type PrometheusMetrics struct {
	counters Registerer
}

// Registerer is the recording surface NewPrometheusMetrics forwards to
// (implemented over a prometheus registry by internal/telemetry/prom's
// Recorder), kept narrow so tests can substitute a fake without pulling in
// the full client_golang API surface.
type Registerer interface {
	IncCounter(name string, value float64, labels ...string)
	RecordTimer(name string, d time.Duration, labels ...string)
	RecordGauge(name string, value float64, labels ...string)
}

// NewPrometheusMetrics adapts a Registerer (typically backed by
// prometheus.CounterVec/HistogramVec/GaugeVec instances, see
// internal/telemetry/prom) to the Metrics facade.
func NewPrometheusMetrics(r Registerer) Metrics {
	return promMetrics{r: r}
}

type promMetrics struct{ r Registerer }

func (p promMetrics) IncCounter(name string, value float64, labels ...string) {
	p.r.IncCounter(name, value, labels...)
}

func (p promMetrics) RecordTimer(name string, d time.Duration, labels ...string) {
	p.r.RecordTimer(name, d, labels...)
}

func (p promMetrics) RecordGauge(name string, value float64, labels ...string) {
	p.r.RecordGauge(name, value, labels...)
}
