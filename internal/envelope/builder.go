package envelope

import (
	"encoding/json"
	"fmt"
	"time"
)

// Builder assembles an Envelope incrementally, mirroring the fluent
// construction style used across the capsule and runner boundaries.
type Builder struct {
	env Envelope
	set bool
}

// NewBuilder starts a new envelope builder with no result set yet.
func NewBuilder() *Builder {
	return &Builder{}
}

// BuildSuccess is a one-shot convenience for the common case: a successful
// envelope wrapping data, with no diagnostics, suggestions, metrics, or
// provenance.
func BuildSuccess(data any) (Envelope, error) {
	return NewBuilder().Success(data).Build()
}

// BuildError is a one-shot convenience for a failed envelope carrying message
// and an optional code.
func BuildError(message string, code string) Envelope {
	env, _ := NewBuilder().Error(message, code).Build()
	return env
}

// Success sets the envelope's result to a success result wrapping data.
func (b *Builder) Success(data any) *Builder {
	raw, err := json.Marshal(data)
	if err != nil {
		// Preserve builder chaining; Build() surfaces marshal failures as an
		// error result so callers never silently lose a bad payload.
		b.env.Result = Result{Success: false, Error: &ErrorInfo{Message: fmt.Sprintf("marshal success data: %v", err)}}
		b.set = true
		return b
	}
	b.env.Result = Result{Success: true, Data: raw}
	b.set = true
	return b
}

// Error sets the envelope's result to a failure with the given message and
// optional machine-readable code.
func (b *Builder) Error(message string, code string) *Builder {
	b.env.Result = Result{Success: false, Error: &ErrorInfo{Message: message, Code: code}}
	b.set = true
	return b
}

// AddDiagnostic appends a diagnostic entry.
func (b *Builder) AddDiagnostic(d Diagnostic) *Builder {
	b.env.Diagnostics = append(b.env.Diagnostics, d)
	return b
}

// AddSuggestion appends a suggestion entry.
func (b *Builder) AddSuggestion(s Suggestion) *Builder {
	b.env.Suggestions = append(b.env.Suggestions, s)
	return b
}

// WithMetrics attaches metrics to the envelope, replacing any previously set.
func (b *Builder) WithMetrics(m Metrics) *Builder {
	b.env.Metrics = &m
	return b
}

// WithProvenance attaches provenance to the envelope, replacing any
// previously set.
func (b *Builder) WithProvenance(p Provenance) *Builder {
	b.env.Provenance = &p
	return b
}

// WithTrace stamps trace/span ids onto the envelope's provenance, creating it
// if necessary.
func (b *Builder) WithTrace(traceID, spanID, parentSpanID string) *Builder {
	if b.env.Provenance == nil {
		now := time.Now().UTC()
		b.env.Provenance = &Provenance{Timestamp: &now}
	}
	b.env.Provenance.TraceID = traceID
	b.env.Provenance.SpanID = spanID
	b.env.Provenance.ParentSpanID = parentSpanID
	return b
}

// Build finalizes the envelope. It returns an error if no result was ever
// set, matching the source implementation's MissingResult build error.
func (b *Builder) Build() (Envelope, error) {
	if !b.set {
		return Envelope{}, errMissingResult
	}
	return b.env, nil
}

var errMissingResult = fmt.Errorf("envelope: result is required to build an envelope")
