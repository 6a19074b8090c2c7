// Package prom provides a prometheus.Registry-backed telemetry.Registerer.
// Vectors are created lazily per metric name on first use and cached, since
// the core's metric names are not known statically at package init time
// (they're chosen by callers in wards, gate, autoscale, and ritual).
package prom

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder implements telemetry.Registerer against a prometheus.Registerer.
type Recorder struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// New builds a Recorder that registers vectors against reg as metric names
// are first observed.
func New(reg prometheus.Registerer) *Recorder {
	return &Recorder{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func (r *Recorder) IncCounter(name string, value float64, labels ...string) {
	keys, values := splitLabels(labels)
	r.mu.Lock()
	vec, ok := r.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, keys)
		r.reg.MustRegister(vec)
		r.counters[name] = vec
	}
	r.mu.Unlock()
	vec.WithLabelValues(values...).Add(value)
}

func (r *Recorder) RecordTimer(name string, d time.Duration, labels ...string) {
	keys, values := splitLabels(labels)
	r.mu.Lock()
	vec, ok := r.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name}, keys)
		r.reg.MustRegister(vec)
		r.histograms[name] = vec
	}
	r.mu.Unlock()
	vec.WithLabelValues(values...).Observe(d.Seconds())
}

func (r *Recorder) RecordGauge(name string, value float64, labels ...string) {
	keys, values := splitLabels(labels)
	r.mu.Lock()
	vec, ok := r.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, keys)
		r.reg.MustRegister(vec)
		r.gauges[name] = vec
	}
	r.mu.Unlock()
	vec.WithLabelValues(values...).Set(value)
}

// splitLabels treats the variadic labels as alternating key/value pairs and
// returns the stable list of keys alongside the matching values, in the same
// order, so label cardinality stays fixed per metric name.
func splitLabels(kv []string) (keys, values []string) {
	for i := 0; i+1 < len(kv); i += 2 {
		keys = append(keys, kv[i])
		values = append(values, kv[i+1])
	}
	return keys, values
}
