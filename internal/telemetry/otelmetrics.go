package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// otelMetrics backs Metrics with a raw OpenTelemetry Meter rather than a
// Prometheus registry, for components (the Temporal engine) that already
// hold a Meter bound to the process's global MeterProvider and have no
// Prometheus registry of their own to register against.
type otelMetrics struct {
	meter metric.Meter
}

// NewOtelMetrics builds a Metrics recorder that records directly through m,
// lazily creating one instrument per metric name on first use. Counter and
// timer names map onto Float64Counter/Float64Histogram; OTEL has no
// synchronous gauge instrument, so RecordGauge records into a histogram
// suffixed "_gauge".
func NewOtelMetrics(m metric.Meter) Metrics {
	return &otelMetrics{meter: m}
}

func (m *otelMetrics) IncCounter(name string, value float64, labels ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(labelsToAttrs(labels)...))
}

func (m *otelMetrics) RecordTimer(name string, d time.Duration, labels ...string) {
	histogram, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	histogram.Record(context.Background(), d.Seconds(), metric.WithAttributes(labelsToAttrs(labels)...))
}

func (m *otelMetrics) RecordGauge(name string, value float64, labels ...string) {
	histogram, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	histogram.Record(context.Background(), value, metric.WithAttributes(labelsToAttrs(labels)...))
}

// labelsToAttrs converts alternating key/value pairs into OTEL attributes,
// pairing a trailing odd key with an empty string.
func labelsToAttrs(labels []string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(labels); i += 2 {
		v := ""
		if i+1 < len(labels) {
			v = labels[i+1]
		}
		attrs = append(attrs, attribute.String(labels[i], v))
	}
	return attrs
}
