// Package eventlogtest provides an in-memory eventlog.Broker for tests in
// other packages that need a working *eventlog.Log without a live
// Pulse/Redis stream.
package eventlogtest

import (
	"context"
	"strconv"
	"sync"

	"github.com/afewell-hh/demon/internal/eventlog"
)

// Broker is an in-memory eventlog.Broker.
type Broker struct {
	mu      sync.Mutex
	streams map[string]*stream
}

// NewBroker constructs an empty Broker.
func NewBroker() *Broker {
	return &Broker{streams: make(map[string]*stream)}
}

func (b *Broker) Stream(name string) (eventlog.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[name]
	if !ok {
		s = &stream{}
		b.streams[name] = s
	}
	return s, nil
}

func (b *Broker) Close(ctx context.Context) error { return nil }

type entry struct {
	event   string
	payload []byte
	seq     int
}

type stream struct {
	mu      sync.Mutex
	entries []entry
}

func (s *stream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := len(s.entries)
	s.entries = append(s.entries, entry{event: event, payload: append([]byte(nil), payload...), seq: seq})
	return strconv.Itoa(seq), nil
}

func (s *stream) NewSink(ctx context.Context, name string) (eventlog.Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]entry, len(s.entries))
	copy(snapshot, s.entries)
	return &sink{entries: snapshot}, nil
}

type sink struct {
	entries []entry
	once    sync.Once
	ch      chan eventlog.SinkEvent
}

func (s *sink) Subscribe() <-chan eventlog.SinkEvent {
	s.once.Do(func() {
		s.ch = make(chan eventlog.SinkEvent, len(s.entries))
		for _, e := range s.entries {
			s.ch <- eventlog.SinkEvent{Payload: e.payload}
		}
		close(s.ch)
	})
	return s.ch
}

func (s *sink) Ack(ctx context.Context, ev eventlog.SinkEvent) error { return nil }

func (s *sink) Close(ctx context.Context) {}
