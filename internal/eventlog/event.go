// Package eventlog implements the append-only, per-run event stream: durable
// storage scoped by subject, deduplicated by MessageId, and replayable by
// subject filter.
package eventlog

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the shape of an Event's kind-specific fields. Values follow
// the "name:vN" convention so a future revision of a kind's fields can coexist
// with the previous one on the same stream.
type Kind string

const (
	KindRitualStarted           Kind = "ritual.started:v1"
	KindRitualStateTransitioned Kind = "ritual.state.transitioned:v1"
	KindRitualCompleted         Kind = "ritual.completed:v1"
	KindRitualFailed            Kind = "ritual.failed:v1"
	KindApprovalRequested       Kind = "approval.requested:v1"
	KindApprovalGranted         Kind = "approval.granted:v1"
	KindApprovalDenied          Kind = "approval.denied:v1"
	KindTimerScheduled          Kind = "timer.scheduled:v1"
	KindTimerFired              Kind = "timer.fired:v1"
	KindPolicyDecision          Kind = "policy.decision:v1"
	KindGraphCommitCreated      Kind = "graph.commit.created:v1"
	KindGraphTagUpdated         Kind = "graph.tag.updated:v1"
	KindAgentScaleHint          Kind = "agent.scale.hint:v1"
)

// Event is a tagged record appended to the log. Fields carries the
// kind-specific payload; on the wire it is flattened alongside the common
// envelope so the stored record reads as one flat JSON object, matching the
// shape producers and consumers agree on.
type Event struct {
	Kind      Kind
	Ts        time.Time
	TenantID  string
	RunID     string
	RitualID  string
	MessageID string          `json:"-"`
	Fields    json.RawMessage `json:"-"`
}

// StructFields decodes Fields into dst, a pointer to a kind-specific struct.
func (e Event) StructFields(dst any) error {
	if len(e.Fields) == 0 {
		return nil
	}
	return json.Unmarshal(e.Fields, dst)
}

// WithFields returns a copy of e with Fields set to the JSON encoding of v.
func (e Event) WithFields(v any) (Event, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Event{}, fmt.Errorf("eventlog: encode fields for %s: %w", e.Kind, err)
	}
	e.Fields = raw
	return e, nil
}

type eventEnvelope struct {
	Event    Kind      `json:"event"`
	Ts       time.Time `json:"ts"`
	TenantID string    `json:"tenantId,omitempty"`
	RunID    string    `json:"runId"`
	RitualID string    `json:"ritualId"`
}

// MarshalJSON flattens the common envelope fields and the kind-specific
// Fields payload into a single JSON object, matching the wire shape
// `{event, ts, tenantId, runId, ritualId, ...kind-specific}`.
func (e Event) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(eventEnvelope{
		Event:    e.Kind,
		Ts:       e.Ts,
		TenantID: e.TenantID,
		RunID:    e.RunID,
		RitualID: e.RitualID,
	})
	if err != nil {
		return nil, err
	}
	if len(e.Fields) == 0 || string(e.Fields) == "null" {
		return base, nil
	}
	var baseMap map[string]json.RawMessage
	if err := json.Unmarshal(base, &baseMap); err != nil {
		return nil, err
	}
	var fieldsMap map[string]json.RawMessage
	if err := json.Unmarshal(e.Fields, &fieldsMap); err != nil {
		return nil, fmt.Errorf("eventlog: fields is not a JSON object: %w", err)
	}
	for k, v := range fieldsMap {
		baseMap[k] = v
	}
	return json.Marshal(baseMap)
}

// UnmarshalJSON splits the flattened wire object back into the common
// envelope fields and a Fields blob holding everything else.
func (e *Event) UnmarshalJSON(data []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	var full map[string]json.RawMessage
	if err := json.Unmarshal(data, &full); err != nil {
		return err
	}
	delete(full, "event")
	delete(full, "ts")
	delete(full, "tenantId")
	delete(full, "runId")
	delete(full, "ritualId")
	fields, err := json.Marshal(full)
	if err != nil {
		return err
	}
	e.Kind = env.Event
	e.Ts = env.Ts
	e.TenantID = env.TenantID
	e.RunID = env.RunID
	e.RitualID = env.RitualID
	e.Fields = fields
	return nil
}
