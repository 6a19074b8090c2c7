// Package envelope defines the canonical ResultEnvelope shape shared by every
// capsule output, router dispatch result, and API boundary in the
// orchestration core, along with its JSON-Schema validator.
package envelope

import (
	"encoding/json"
	"time"
)

type (
	// Envelope is the canonical result shape. Data carries the success payload
	// when Result.Success is true; when false, Error carries the failure.
	Envelope struct {
		Result      Result       `json:"result"`
		Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
		Suggestions []Suggestion `json:"suggestions,omitempty"`
		Metrics     *Metrics     `json:"metrics,omitempty"`
		Provenance  *Provenance  `json:"provenance,omitempty"`
	}

	// Result is the polymorphic {success:true,data} / {success:false,error}
	// union. Data is left as json.RawMessage at this layer; typed callers
	// decode it with Envelope.DecodeData.
	Result struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data,omitempty"`
		Error   *ErrorInfo      `json:"error,omitempty"`
	}

	// ErrorInfo describes a failed operation.
	ErrorInfo struct {
		Message string          `json:"message"`
		Code    string          `json:"code,omitempty"`
		Details json.RawMessage `json:"details,omitempty"`
	}

	// Diagnostic is a single structured log-like entry attached to an envelope.
	Diagnostic struct {
		Level     DiagnosticLevel `json:"level"`
		Message   string          `json:"message"`
		Timestamp *time.Time      `json:"timestamp,omitempty"`
		Source    string          `json:"source,omitempty"`
		Context   json.RawMessage `json:"context,omitempty"`
	}

	// DiagnosticLevel is one of debug/info/warning/error/fatal.
	DiagnosticLevel string

	// Suggestion is an actionable follow-up surfaced alongside a result.
	Suggestion struct {
		Type        SuggestionType    `json:"type"`
		Description string            `json:"description"`
		Patch       []JSONPatchOp     `json:"patch,omitempty"`
		Priority    SuggestionPriority `json:"priority,omitempty"`
		Rationale   string            `json:"rationale,omitempty"`
	}

	// SuggestionType is one of action/modification/configuration/optimization.
	SuggestionType string

	// SuggestionPriority is one of low/medium/high/critical.
	SuggestionPriority string

	// JSONPatchOp is a single RFC 6902 JSON-Patch operation. Op determines
	// which of Value/From are required; see schema.go for the enforced rules.
	JSONPatchOp struct {
		Op    PatchOp         `json:"op"`
		Path  string          `json:"path"`
		Value json.RawMessage `json:"value,omitempty"`
		From  string          `json:"from,omitempty"`
	}

	// PatchOp is one of add/remove/replace/move/copy/test.
	PatchOp string

	// Metrics carries optional timing, resource, and counter data.
	Metrics struct {
		Duration  *DurationMetrics `json:"duration,omitempty"`
		Resources *ResourceMetrics `json:"resources,omitempty"`
		Counters  map[string]int64 `json:"counters,omitempty"`
		Runtime   json.RawMessage  `json:"runtime,omitempty"`
		Counts    map[string]int64 `json:"counts,omitempty"`
		Custom    json.RawMessage  `json:"custom,omitempty"`
	}

	// DurationMetrics breaks a total duration down into named phases.
	DurationMetrics struct {
		TotalMS float64            `json:"total_ms,omitempty"`
		Phases  map[string]float64 `json:"phases,omitempty"`
	}

	// ResourceMetrics captures resource consumption for the operation.
	ResourceMetrics struct {
		MemoryBytes  int64   `json:"memory_bytes,omitempty"`
		CPUPercent   float64 `json:"cpu_percent,omitempty"`
		IOOperations int64   `json:"io_operations,omitempty"`
	}

	// Provenance records where a result came from and how it got here.
	Provenance struct {
		Source        *SourceInfo      `json:"source,omitempty"`
		Timestamp     *time.Time       `json:"timestamp,omitempty"`
		TraceID       string           `json:"trace_id,omitempty"`
		SpanID        string           `json:"span_id,omitempty"`
		ParentSpanID  string           `json:"parent_span_id,omitempty"`
		Chain         []ProcessingStep `json:"chain,omitempty"`
	}

	// SourceInfo identifies the system that produced a result.
	SourceInfo struct {
		System   string `json:"system"`
		Version  string `json:"version,omitempty"`
		Instance string `json:"instance,omitempty"`
	}

	// ProcessingStep is one hop in a provenance chain.
	ProcessingStep struct {
		Step      string    `json:"step"`
		Timestamp time.Time `json:"timestamp"`
		Actor     string    `json:"actor,omitempty"`
		Signature string    `json:"signature,omitempty"`
	}
)

const (
	DiagnosticDebug   DiagnosticLevel = "debug"
	DiagnosticInfo    DiagnosticLevel = "info"
	DiagnosticWarning DiagnosticLevel = "warning"
	DiagnosticError   DiagnosticLevel = "error"
	DiagnosticFatal   DiagnosticLevel = "fatal"

	SuggestionAction        SuggestionType = "action"
	SuggestionModification  SuggestionType = "modification"
	SuggestionConfiguration SuggestionType = "configuration"
	SuggestionOptimization  SuggestionType = "optimization"

	PriorityLow      SuggestionPriority = "low"
	PriorityMedium   SuggestionPriority = "medium"
	PriorityHigh     SuggestionPriority = "high"
	PriorityCritical SuggestionPriority = "critical"

	PatchAdd     PatchOp = "add"
	PatchRemove  PatchOp = "remove"
	PatchReplace PatchOp = "replace"
	PatchMove    PatchOp = "move"
	PatchCopy    PatchOp = "copy"
	PatchTest    PatchOp = "test"
)

// DecodeData unmarshals the envelope's success data into dst. It returns an
// error if the result is not a success result.
func (e Envelope) DecodeData(dst any) error {
	if !e.Result.Success {
		return &notSuccessError{}
	}
	if len(e.Result.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Result.Data, dst)
}

type notSuccessError struct{}

func (*notSuccessError) Error() string { return "envelope: result is not a success result" }

func newDiagnostic(level DiagnosticLevel, message string) Diagnostic {
	now := time.Now().UTC()
	return Diagnostic{Level: level, Message: message, Timestamp: &now}
}

// NewDebugDiagnostic builds a debug-level diagnostic timestamped now.
func NewDebugDiagnostic(message string) Diagnostic { return newDiagnostic(DiagnosticDebug, message) }

// NewInfoDiagnostic builds an info-level diagnostic timestamped now.
func NewInfoDiagnostic(message string) Diagnostic { return newDiagnostic(DiagnosticInfo, message) }

// NewWarningDiagnostic builds a warning-level diagnostic timestamped now.
func NewWarningDiagnostic(message string) Diagnostic {
	return newDiagnostic(DiagnosticWarning, message)
}

// NewErrorDiagnostic builds an error-level diagnostic timestamped now.
func NewErrorDiagnostic(message string) Diagnostic { return newDiagnostic(DiagnosticError, message) }

// NewFatalDiagnostic builds a fatal-level diagnostic timestamped now.
func NewFatalDiagnostic(message string) Diagnostic { return newDiagnostic(DiagnosticFatal, message) }
