package eventlog

import (
	"context"
	"strconv"
	"sync"
)

// fakeBroker is an in-memory Broker used by tests that exercise Log's
// dedup/subject/dual-publish logic without a live Pulse/Redis stream.
type fakeBroker struct {
	mu      sync.Mutex
	streams map[string]*fakeStream
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{streams: make(map[string]*fakeStream)}
}

func (b *fakeBroker) Stream(name string) (Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[name]
	if !ok {
		s = &fakeStream{}
		b.streams[name] = s
	}
	return s, nil
}

func (b *fakeBroker) Close(ctx context.Context) error { return nil }

type fakeEntry struct {
	event   string
	payload []byte
	seq     int
}

type fakeStream struct {
	mu      sync.Mutex
	entries []fakeEntry
}

func (s *fakeStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := len(s.entries)
	s.entries = append(s.entries, fakeEntry{event: event, payload: append([]byte(nil), payload...), seq: seq})
	return strconv.Itoa(seq), nil
}

func (s *fakeStream) NewSink(ctx context.Context, name string) (Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]fakeEntry, len(s.entries))
	copy(snapshot, s.entries)
	return &fakeSink{entries: snapshot}, nil
}

type fakeSink struct {
	entries []fakeEntry
	once    sync.Once
	ch      chan SinkEvent
}

func (s *fakeSink) Subscribe() <-chan SinkEvent {
	s.once.Do(func() {
		s.ch = make(chan SinkEvent, len(s.entries))
		for _, e := range s.entries {
			s.ch <- SinkEvent{Payload: e.payload}
		}
		close(s.ch)
	})
	return s.ch
}

func (s *fakeSink) Ack(ctx context.Context, ev SinkEvent) error { return nil }

func (s *fakeSink) Close(ctx context.Context) {}
