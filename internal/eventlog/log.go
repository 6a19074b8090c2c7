package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupWindow is the interval within which a repeated MessageId collapses to
// the single stored record, matching the 120 s window of the JetStream-style
// stream this log emulates.
const DedupWindow = 120 * time.Second

// DefaultStreamName is the stream created by EnsureStream when no override is
// configured.
const DefaultStreamName = "RITUAL_EVENTS"

// ErrStreamNotFound signals that ReadRun or ListRecentRuns could not open
// the stream or its replay sink. It is not a failure: callers treat it as an empty result plus a
// warning, never as a Transport error.
var ErrStreamNotFound = errors.New("eventlog: stream not found")

type (
	// Ack confirms a successful, deduplicated append.
	Ack struct {
		// Duplicate is true when MessageId had already been stored and this
		// publish produced no new record.
		Duplicate bool
		// SequenceID is the broker-assigned sequence for the stored record.
		SequenceID string
	}

	// Log is the append-only, per-run event log: durable storage scoped by
	// subject, deduplicated by MessageId, and replayable by subject filter.
	Log struct {
		broker     Broker
		redis      *redis.Client
		streamName string
		tenanted   bool
		dualPublish bool
	}

	// Options configures a Log.
	Options struct {
		Broker Broker
		// Redis backs the MessageId dedup window. Required.
		Redis *redis.Client
		// StreamName overrides DefaultStreamName.
		StreamName string
		// Tenanted enables the tenant subject segment and tenant-qualified
		// message ids.
		Tenanted bool
		// DualPublish additionally publishes every event to the legacy,
		// untenanted subject under the same MessageId. Only meaningful when
		// Tenanted is true.
		DualPublish bool
	}
)

// New constructs a Log. Returns an error if opts.Broker or opts.Redis is nil.
func New(opts Options) (*Log, error) {
	if opts.Broker == nil {
		return nil, errors.New("eventlog: broker is required")
	}
	if opts.Redis == nil {
		return nil, errors.New("eventlog: redis client is required")
	}
	name := opts.StreamName
	if name == "" {
		name = DefaultStreamName
	}
	return &Log{
		broker:      opts.Broker,
		redis:       opts.Redis,
		streamName:  name,
		tenanted:    opts.Tenanted,
		dualPublish: opts.DualPublish,
	}, nil
}

// EnsureStream is idempotent: it opens (creating if absent) the stream this
// log publishes to. Pulse streams are created lazily by the underlying
// client on first use, so EnsureStream simply forces that creation eagerly
// and surfaces any connectivity failure up front.
func (l *Log) EnsureStream(ctx context.Context) error {
	if _, err := l.broker.Stream(l.streamName); err != nil {
		return fmt.Errorf("eventlog: ensure stream: %w", err)
	}
	return nil
}

// Append publishes ev under the subject derived from its tenant/ritual/run,
// deduplicated by ev.MessageID within DedupWindow. When the log is tenanted
// and dual-publish is enabled, the same event (same MessageID) is also
// published to the legacy, untenanted subject.
//
// Append returns a wrapped error when the dedup check, the encoding of ev,
// or the publish fails; these errors carry no Transport/Contract
// classification.
func (l *Log) Append(ctx context.Context, ev Event) (Ack, error) {
	if ev.MessageID == "" {
		return Ack{}, fmt.Errorf("eventlog: append: %w", errMissingMessageID)
	}

	dup, err := l.claimDedup(ctx, ev.MessageID)
	if err != nil {
		return Ack{}, fmt.Errorf("eventlog: dedup check: %w", err)
	}
	if dup {
		return Ack{Duplicate: true}, nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return Ack{}, fmt.Errorf("eventlog: encode event: %w", err)
	}

	subject := Subject(l.tenanted, ev.TenantID, ev.RitualID, ev.RunID)
	stream, err := l.broker.Stream(l.streamName)
	if err != nil {
		return Ack{}, fmt.Errorf("eventlog: open stream: %w", err)
	}
	seq, err := stream.Add(ctx, subject, payload)
	if err != nil {
		return Ack{}, fmt.Errorf("eventlog: publish: %w", err)
	}

	if l.tenanted && l.dualPublish {
		legacy := LegacySubject(ev.RitualID, ev.RunID)
		if _, err := stream.Add(ctx, legacy, payload); err != nil {
			return Ack{}, fmt.Errorf("eventlog: dual-publish: %w", err)
		}
	}

	return Ack{SequenceID: seq}, nil
}

// ReadRun fetches all events for a run through an ephemeral replay consumer,
// oldest to newest. A run with no published events yields (nil, nil); a
// stream or replay sink that cannot be opened yields an error wrapping
// ErrStreamNotFound.
func (l *Log) ReadRun(ctx context.Context, tenantID, ritualID, runID string) ([]Event, error) {
	stream, err := l.broker.Stream(l.streamName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamNotFound, err)
	}

	sinkName := fmt.Sprintf("replay-%s-%d", runID, time.Now().UnixNano())
	sink, err := stream.NewSink(ctx, sinkName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamNotFound, err)
	}
	defer sink.Close(ctx)

	var events []Event
	ch := sink.Subscribe()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events, nil
			}
			var decoded Event
			if err := json.Unmarshal(ev.Payload, &decoded); err != nil {
				_ = sink.Ack(ctx, ev)
				continue
			}
			if decoded.RunID != runID || decoded.RitualID != ritualID {
				_ = sink.Ack(ctx, ev)
				continue
			}
			events = append(events, decoded)
			if err := sink.Ack(ctx, ev); err != nil {
				return events, fmt.Errorf("eventlog: ack replay event: %w", err)
			}
		case <-ctx.Done():
			return events, ctx.Err()
		case <-time.After(250 * time.Millisecond):
			// No further events arrived within the quiet window; the replay
			// consumer has caught up to the head of the stream.
			return events, nil
		}
	}
}

// RunSummary is one run's most-recently-observed lifecycle state, derived
// from a full-stream replay.
type RunSummary struct {
	RunID       string    `json:"runId"`
	TenantID    string    `json:"tenantId,omitempty"`
	RitualID    string    `json:"ritualId"`
	Status      string    `json:"status"`
	LastEventAt time.Time `json:"lastEventAt"`
}

// ListRecentRuns replays the entire event stream and derives one RunSummary
// per run from its most recent lifecycle event, newest first, truncated to
// limit (0 means unbounded). Like ReadRun, a stream or replay sink that
// cannot be opened yields an error wrapping ErrStreamNotFound; this is the
// "stream missing" case callers treat as an empty list plus a warning
// rather than a failure.
func (l *Log) ListRecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	stream, err := l.broker.Stream(l.streamName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamNotFound, err)
	}

	sinkName := fmt.Sprintf("list-runs-%d", time.Now().UnixNano())
	sink, err := stream.NewSink(ctx, sinkName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamNotFound, err)
	}
	defer sink.Close(ctx)

	latest := map[string]RunSummary{}
	ch := sink.Subscribe()
loop:
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				break loop
			}
			var decoded Event
			if err := json.Unmarshal(ev.Payload, &decoded); err != nil {
				_ = sink.Ack(ctx, ev)
				continue
			}
			switch decoded.Kind {
			case KindRitualStarted, KindRitualStateTransitioned, KindRitualCompleted, KindRitualFailed:
			default:
				// Policy, approval and timer events share the run's subject
				// but do not change its lifecycle status.
				_ = sink.Ack(ctx, ev)
				continue
			}
			summary := RunSummary{
				RunID:       decoded.RunID,
				TenantID:    decoded.TenantID,
				RitualID:    decoded.RitualID,
				Status:      lifecycleStatus(decoded.Kind),
				LastEventAt: decoded.Ts,
			}
			if existing, ok := latest[decoded.RunID]; !ok || decoded.Ts.After(existing.LastEventAt) {
				latest[decoded.RunID] = summary
			}
			if err := sink.Ack(ctx, ev); err != nil {
				return nil, fmt.Errorf("eventlog: ack replay event: %w", err)
			}
		case <-ctx.Done():
			break loop
		case <-time.After(250 * time.Millisecond):
			break loop
		}
	}

	summaries := make([]RunSummary, 0, len(latest))
	for _, s := range latest {
		summaries = append(summaries, s)
	}
	for i := 0; i < len(summaries); i++ {
		for j := i + 1; j < len(summaries); j++ {
			if summaries[j].LastEventAt.After(summaries[i].LastEventAt) {
				summaries[i], summaries[j] = summaries[j], summaries[i]
			}
		}
	}
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// lifecycleStatus derives a coarse run status string from a lifecycle event
// kind, for summary listings that never decode the event's kind-specific
// fields.
func lifecycleStatus(kind Kind) string {
	switch kind {
	case KindRitualStarted:
		return "Running"
	case KindRitualCompleted:
		return "Completed"
	case KindRitualFailed:
		return "Failed"
	case KindRitualStateTransitioned:
		return "Transitioned"
	default:
		return string(kind)
	}
}

// claimDedup atomically claims messageID for DedupWindow, returning true if
// it was already claimed (a duplicate publish).
func (l *Log) claimDedup(ctx context.Context, messageID string) (bool, error) {
	key := "eventlog:dedup:" + messageID
	ok, err := l.redis.SetNX(ctx, key, "1", DedupWindow).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

var errMissingMessageID = errors.New("MessageID is required")
