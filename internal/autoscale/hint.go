package autoscale

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/afewell-hh/demon/internal/eventlog"
	"github.com/redis/go-redis/v9"
)

// DefaultStreamName is the SCALE_HINTS stream created by EnsureStream.
const DefaultStreamName = "SCALE_HINTS"

// Retention is the 7-day retention window spec.md §6 assigns SCALE_HINTS.
const Retention = 7 * 24 * time.Hour

// HintEvent is the agent.scale.hint:v1 payload.
type HintEvent struct {
	Event          string         `json:"event"`
	Ts             time.Time      `json:"ts"`
	TenantID       string         `json:"tenantId"`
	Recommendation Recommendation `json:"recommendation"`
	Metrics        Metrics        `json:"metrics"`
	Thresholds     Thresholds     `json:"thresholds"`
	Hysteresis     Hysteresis     `json:"hysteresis"`
	Reason         string         `json:"reason"`
	TraceID        string         `json:"traceId,omitempty"`
}

const hintKind = "agent.scale.hint:v1"

// Publisher publishes hint events onto the SCALE_HINTS stream, deduplicated
// per (tenant, state-change).
type Publisher struct {
	broker     eventlog.Broker
	redis      *redis.Client
	streamName string
	clock      func() time.Time
}

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	Broker     eventlog.Broker
	Redis      *redis.Client
	StreamName string
}

// NewPublisher constructs a Publisher.
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.Broker == nil {
		return nil, errors.New("autoscale: broker is required")
	}
	if opts.Redis == nil {
		return nil, errors.New("autoscale: redis client is required")
	}
	name := opts.StreamName
	if name == "" {
		name = DefaultStreamName
	}
	return &Publisher{broker: opts.Broker, redis: opts.Redis, streamName: name, clock: time.Now}, nil
}

// EnsureStream is idempotent: it opens (creating if absent) the SCALE_HINTS
// stream.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	if _, err := p.broker.Stream(p.streamName); err != nil {
		return fmt.Errorf("autoscale: ensure stream: %w", err)
	}
	return nil
}

// subject derives the hint subject for a tenant: demon.scale.v1.{tenant}.hints.
func subject(tenantID string) string {
	return fmt.Sprintf("demon.scale.v1.%s.hints", tenantID)
}

// messageID derives the dedup id for a hint, deterministic per (tenant,
// recommendation, state-change): the recommendation and the instant the
// FSM's state last changed.
func messageID(tenantID string, rec Recommendation, stateChangedAt time.Time) string {
	return fmt.Sprintf("%s:scale-hint:%s:%d", tenantID, rec, stateChangedAt.UnixNano())
}

// Publish emits hint if it hasn't already been published for this exact
// (tenant, recommendation, state-change) within DedupWindow.
func (p *Publisher) Publish(ctx context.Context, hint HintEvent) error {
	hint.Event = hintKind
	if hint.Ts.IsZero() {
		hint.Ts = p.clock().UTC()
	}

	id := messageID(hint.TenantID, hint.Recommendation, hint.Hysteresis.StateChangedAt)
	dup, err := p.claimDedup(ctx, id)
	if err != nil {
		return fmt.Errorf("autoscale: dedup check: %w", err)
	}
	if dup {
		return nil
	}

	payload, err := json.Marshal(hint)
	if err != nil {
		return fmt.Errorf("autoscale: encode hint: %w", err)
	}

	stream, err := p.broker.Stream(p.streamName)
	if err != nil {
		return fmt.Errorf("autoscale: open stream: %w", err)
	}
	if _, err := stream.Add(ctx, subject(hint.TenantID), payload); err != nil {
		return fmt.Errorf("autoscale: publish hint: %w", err)
	}
	return nil
}

func (p *Publisher) claimDedup(ctx context.Context, id string) (bool, error) {
	key := "autoscale:dedup:" + id
	ok, err := p.redis.SetNX(ctx, key, "1", eventlog.DedupWindow).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}
