package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// BrokerOptions configures the Pulse-backed broker.
	BrokerOptions struct {
		// Redis is the connection used to back Pulse streams. Required.
		Redis *redis.Client
		// StreamMaxLen bounds entries kept per stream. Zero uses Pulse defaults.
		StreamMaxLen int
		// OperationTimeout bounds individual Add operations. Zero means no timeout.
		OperationTimeout time.Duration
	}

	// Broker exposes the subset of Pulse operations the event log needs:
	// opening (creating, if absent) a named stream and closing the broker.
	Broker interface {
		Stream(name string) (Stream, error)
		Close(ctx context.Context) error
	}

	// Stream publishes events and opens replay sinks against one Pulse stream.
	Stream interface {
		// Add publishes an event under the given name with the given payload,
		// returning the broker-assigned sequence id (e.g. "1234567890-0").
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// NewSink creates a consumer group for reading events back, starting
		// from the beginning of the stream.
		NewSink(ctx context.Context, name string) (Sink, error)
	}

	// SinkEvent is a decoded entry read back from a Sink. It keeps the
	// underlying broker event opaque to callers outside this package so the
	// replay loop in log.go never depends directly on the Pulse SDK's own
	// event type.
	SinkEvent struct {
		Payload []byte
		raw     *streaming.Event
	}

	// Sink mirrors the subset of Pulse sinks the replay reader needs.
	Sink interface {
		Subscribe() <-chan SinkEvent
		Ack(context.Context, SinkEvent) error
		Close(context.Context)
	}
)

type pulseBroker struct {
	redis   *redis.Client
	maxLen  int
	timeout time.Duration
}

// NewBroker constructs a Pulse-backed broker from opts.Redis. Returns an
// error if opts.Redis is nil.
func NewBroker(opts BrokerOptions) (Broker, error) {
	if opts.Redis == nil {
		return nil, errors.New("eventlog: redis client is required")
	}
	return &pulseBroker{redis: opts.Redis, maxLen: opts.StreamMaxLen, timeout: opts.OperationTimeout}, nil
}

func (b *pulseBroker) Stream(name string) (Stream, error) {
	if name == "" {
		return nil, errors.New("eventlog: stream name is required")
	}
	var opts []streamopts.Stream
	if b.maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(b.maxLen))
	}
	str, err := streaming.NewStream(name, b.redis, opts...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open stream %s: %w", name, err)
	}
	return &pulseStream{stream: str, timeout: b.timeout}, nil
}

func (b *pulseBroker) Close(ctx context.Context) error { return nil }

type pulseStream struct {
	stream  *streaming.Stream
	timeout time.Duration
}

func (s *pulseStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	id, err := s.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("eventlog: publish: %w", err)
	}
	return id, nil
}

func (s *pulseStream) NewSink(ctx context.Context, name string) (Sink, error) {
	sink, err := s.stream.NewSink(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("eventlog: new sink %s: %w", name, err)
	}
	return &pulseSink{sink: sink}, nil
}

// pulseSink adapts a *streaming.Sink to the package-local Sink interface,
// translating the Pulse SDK's own event type into SinkEvent at the boundary
// so the rest of the package never imports goa.design/pulse/streaming.
type pulseSink struct {
	sink *streaming.Sink
	once chanOnce
}

type chanOnce struct {
	ch chan SinkEvent
}

func (s *pulseSink) Subscribe() <-chan SinkEvent {
	if s.once.ch != nil {
		return s.once.ch
	}
	out := make(chan SinkEvent)
	s.once.ch = out
	go func() {
		defer close(out)
		for ev := range s.sink.Subscribe() {
			out <- SinkEvent{Payload: ev.Payload, raw: ev}
		}
	}()
	return out
}

func (s *pulseSink) Ack(ctx context.Context, ev SinkEvent) error {
	if ev.raw == nil {
		return errors.New("eventlog: ack: event did not originate from this sink")
	}
	return s.sink.Ack(ctx, ev.raw)
}

func (s *pulseSink) Close(ctx context.Context) {
	s.sink.Close(ctx)
}
