package autoscale

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/afewell-hh/demon/internal/eventlog"
	"github.com/afewell-hh/demon/internal/telemetry"
	"github.com/cenkalti/backoff/v4"
)

// BatchSize and BatchTimeout mirror the upstream consumer's pull-batch shape.
const (
	BatchSize    = 10
	BatchTimeout = 30 * time.Second
)

// ConsumerOptions configures a Consumer.
type ConsumerOptions struct {
	Broker           eventlog.Broker
	StreamName       string
	SinkName         string
	Client           Client
	Logger           telemetry.Logger
	RetryBackoffMs   int64
	MaxRetryAttempts int
}

// Consumer drains hint events from the SCALE_HINTS stream through a bounded,
// retrying dispatch to a Client. The underlying Sink only exposes Ack (no
// broker-level Nak/max-deliver), so the retry loop runs synchronously inside
// message handling, with real backoff sleeps between attempts, exactly as
// the upstream consumer does; a message that exhausts its attempts there is
// logged as dead-lettered and acked rather than left unacked indefinitely.
type Consumer struct {
	broker     eventlog.Broker
	streamName string
	sinkName   string
	client     Client
	logger     telemetry.Logger
	backoffMs  int64
	maxRetries int
}

// NewConsumer constructs a Consumer.
func NewConsumer(opts ConsumerOptions) *Consumer {
	streamName := opts.StreamName
	if streamName == "" {
		streamName = DefaultStreamName
	}
	sinkName := opts.SinkName
	if sinkName == "" {
		sinkName = "scale-hint-consumer"
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Consumer{
		broker:     opts.Broker,
		streamName: streamName,
		sinkName:   sinkName,
		client:     opts.Client,
		logger:     logger,
		backoffMs:  opts.RetryBackoffMs,
		maxRetries: opts.MaxRetryAttempts,
	}
}

// Run drains the stream until ctx is canceled, sleeping 1s between empty
// batches.
func (c *Consumer) Run(ctx context.Context) error {
	stream, err := c.broker.Stream(c.streamName)
	if err != nil {
		return fmt.Errorf("autoscale: open stream: %w", err)
	}
	sink, err := stream.NewSink(ctx, c.sinkName)
	if err != nil {
		return fmt.Errorf("autoscale: new sink: %w", err)
	}
	defer sink.Close(ctx)

	ch := sink.Subscribe()
	for {
		batch, empty := c.drainBatch(ctx, ch)
		for _, ev := range batch {
			c.handle(ctx, sink, ev)
		}
		if empty {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) drainBatch(ctx context.Context, ch <-chan eventlog.SinkEvent) ([]eventlog.SinkEvent, bool) {
	var batch []eventlog.SinkEvent
	deadline := time.NewTimer(BatchTimeout)
	defer deadline.Stop()
	for len(batch) < BatchSize {
		select {
		case ev, ok := <-ch:
			if !ok {
				return batch, len(batch) == 0
			}
			batch = append(batch, ev)
		case <-deadline.C:
			return batch, len(batch) == 0
		case <-ctx.Done():
			return batch, len(batch) == 0
		}
	}
	return batch, false
}

func (c *Consumer) handle(ctx context.Context, sink eventlog.Sink, ev eventlog.SinkEvent) {
	var hint HintEvent
	if err := json.Unmarshal(ev.Payload, &hint); err != nil {
		c.logger.Error(ctx, "failed to deserialize scale hint, acking to avoid poison-pill loop", "error", err)
		_ = sink.Ack(ctx, ev)
		return
	}

	attempt := 0
	policy := DeterministicBackoff(time.Duration(c.backoffMs)*time.Millisecond, c.maxRetries)
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			c.logger.Warn(ctx, "retrying autoscale handler after backoff", "attempt", attempt, "tenantId", hint.TenantID)
		}
		return c.client.HandleScaleHint(ctx, hint)
	}, policy)

	if err != nil {
		c.logger.Error(ctx, "exhausted retry attempts for scale hint, dead-lettering", "tenantId", hint.TenantID, "error", err)
		_ = sink.Ack(ctx, ev)
		return
	}

	if err := sink.Ack(ctx, ev); err != nil {
		c.logger.Error(ctx, "failed to ack scale hint", "error", err)
	}
}
