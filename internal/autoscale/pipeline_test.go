package autoscale

import (
	"testing"

	"github.com/afewell-hh/demon/internal/eventlog/eventlogtest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	pub, err := NewPublisher(PublisherOptions{Broker: eventlogtest.NewBroker(), Redis: rdb})
	require.NoError(t, err)
	return NewPipeline(DefaultThresholds(), 3, pub)
}

func TestPipelineTracksFSMPerTenantIndependently(t *testing.T) {
	p := newTestPipeline(t)
	ctx := t.Context()

	for i := 0; i < 2; i++ {
		rec, err := p.Sample(ctx, "tenant-a", Metrics{QueueLag: 600}, "")
		require.NoError(t, err)
		require.Equal(t, RecommendationSteady, rec)
	}

	rec, err := p.Sample(ctx, "tenant-b", Metrics{QueueLag: 1}, "")
	require.NoError(t, err)
	require.Equal(t, RecommendationSteady, rec)

	rec, err = p.Sample(ctx, "tenant-a", Metrics{QueueLag: 600}, "")
	require.NoError(t, err)
	require.Equal(t, RecommendationScaleUp, rec, "tenant-a's own streak should cross the threshold on its 3rd high sample")
}

func TestPipelinePublishesOnlyOnEmit(t *testing.T) {
	p := newTestPipeline(t)
	ctx := t.Context()

	for i := 0; i < 3; i++ {
		_, err := p.Sample(ctx, "tenant-a", Metrics{QueueLag: 1}, "trace-1")
		require.NoError(t, err)
	}

	stream, err := p.publisher.broker.Stream(p.publisher.streamName)
	require.NoError(t, err)
	sink, err := stream.NewSink(ctx, "verify")
	require.NoError(t, err)
	var count int
	for range sink.Subscribe() {
		count++
	}
	require.Equal(t, 1, count, "only the first sample should have emitted a hint")
}
