package autoscale

import (
	"testing"
	"time"

	"github.com/afewell-hh/demon/internal/eventlog/eventlogtest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestPublisher(t *testing.T) *Publisher {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	pub, err := NewPublisher(PublisherOptions{Broker: eventlogtest.NewBroker(), Redis: rdb})
	require.NoError(t, err)
	return pub
}

func TestPublisherPublishIsIdempotentForSameStateChange(t *testing.T) {
	pub := newTestPublisher(t)
	ctx := t.Context()

	hint := HintEvent{
		TenantID:       "acme",
		Recommendation: RecommendationScaleUp,
		Hysteresis:     Hysteresis{StateChangedAt: time.Unix(100, 0)},
	}

	require.NoError(t, pub.Publish(ctx, hint))
	require.NoError(t, pub.Publish(ctx, hint))

	stream, err := pub.broker.Stream(pub.streamName)
	require.NoError(t, err)
	sink, err := stream.NewSink(ctx, "verify")
	require.NoError(t, err)
	var count int
	for range sink.Subscribe() {
		count++
	}
	require.Equal(t, 1, count, "repeated publish for the same state-change must not duplicate")
}

func TestPublisherDistinctStateChangesBothPublish(t *testing.T) {
	pub := newTestPublisher(t)
	ctx := t.Context()

	require.NoError(t, pub.Publish(ctx, HintEvent{
		TenantID:       "acme",
		Recommendation: RecommendationScaleUp,
		Hysteresis:     Hysteresis{StateChangedAt: time.Unix(100, 0)},
	}))
	require.NoError(t, pub.Publish(ctx, HintEvent{
		TenantID:       "acme",
		Recommendation: RecommendationScaleDown,
		Hysteresis:     Hysteresis{StateChangedAt: time.Unix(200, 0)},
	}))

	stream, err := pub.broker.Stream(pub.streamName)
	require.NoError(t, err)
	sink, err := stream.NewSink(ctx, "verify")
	require.NoError(t, err)
	var count int
	for range sink.Subscribe() {
		count++
	}
	require.Equal(t, 2, count)
}
