package autoscale

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// TestFSMSteadyQueueLagScenario reproduces the seed scenario: queueLag
// [600,600,30,600,600,600] against minSignalsForTransition=3 should produce
// [Steady,Steady,Steady,Steady,Steady,ScaleUp] — the dip at sample 3 resets
// the high-signal streak before it reaches the threshold, but the run of
// high samples afterward crosses it on the 3rd consecutive high.
func TestFSMSteadyQueueLagScenario(t *testing.T) {
	fsm := NewFSM(DefaultThresholds(), 3, fixedClock(time.Unix(0, 0)))
	lags := []uint64{600, 600, 30, 600, 600, 600}
	want := []Recommendation{
		RecommendationSteady,
		RecommendationSteady,
		RecommendationSteady,
		RecommendationSteady,
		RecommendationSteady,
		RecommendationScaleUp,
	}

	got := make([]Recommendation, 0, len(lags))
	for _, lag := range lags {
		rec, _, _ := fsm.Sample(Metrics{QueueLag: lag})
		got = append(got, rec)
	}
	require.Equal(t, want, got)
}

func TestFSMEmitsOnlyOnFirstSampleOrRecommendationChange(t *testing.T) {
	fsm := NewFSM(DefaultThresholds(), 3, fixedClock(time.Unix(0, 0)))

	_, emit, _ := fsm.Sample(Metrics{QueueLag: 10})
	require.True(t, emit, "first sample always emits")

	_, emit, _ = fsm.Sample(Metrics{QueueLag: 10})
	require.False(t, emit, "repeated steady recommendation should not re-emit")

	_, emit, _ = fsm.Sample(Metrics{QueueLag: 600})
	require.False(t, emit, "first high sample alone is still steady")

	_, emit, _ = fsm.Sample(Metrics{QueueLag: 600})
	require.False(t, emit)

	_, emit, _ = fsm.Sample(Metrics{QueueLag: 600})
	require.True(t, emit, "3rd consecutive high crosses into ScaleUp")
}

func TestFSMAlternatingSignalsBelowThresholdNeverTransitions(t *testing.T) {
	fsm := NewFSM(DefaultThresholds(), 3, fixedClock(time.Unix(0, 0)))

	for i := 0; i < 10; i++ {
		var m Metrics
		if i%2 == 0 {
			m = Metrics{QueueLag: 600}
		} else {
			m = Metrics{QueueLag: 10}
		}
		rec, _, _ := fsm.Sample(m)
		require.Equal(t, RecommendationSteady, rec, "alternating signals should never cross minSignalsForTransition")
	}
	require.Equal(t, StateNormal, fsm.Snapshot().CurrentState)
}

func TestFSMPressureToReliefToNormalRoundTrip(t *testing.T) {
	fsm := NewFSM(DefaultThresholds(), 3, fixedClock(time.Unix(0, 0)))

	for i := 0; i < 3; i++ {
		fsm.Sample(Metrics{QueueLag: 600})
	}
	require.Equal(t, StatePressure, fsm.Snapshot().CurrentState)

	var rec Recommendation
	for i := 0; i < 6; i++ {
		rec, _, _ = fsm.Sample(Metrics{QueueLag: 1})
	}
	require.Equal(t, RecommendationScaleDown, rec)
	require.Equal(t, StateRelief, fsm.Snapshot().CurrentState)

	rec, emit, _ := fsm.Sample(Metrics{QueueLag: 1})
	require.Equal(t, RecommendationSteady, rec)
	require.True(t, emit, "leaving relief always changes the recommendation, so it emits")
	require.Equal(t, StateNormal, fsm.Snapshot().CurrentState)
}

func TestThresholdsClassify(t *testing.T) {
	th := DefaultThresholds()
	require.Equal(t, signalHigh, th.classify(Metrics{QueueLag: 501}))
	require.Equal(t, signalHigh, th.classify(Metrics{P95LatencyMs: 1001}))
	require.Equal(t, signalHigh, th.classify(Metrics{ErrorRate: 0.06}))
	require.Equal(t, signalLow, th.classify(Metrics{QueueLag: 10, P95LatencyMs: 10}))
	require.Equal(t, signalNeutral, th.classify(Metrics{QueueLag: 200, P95LatencyMs: 200}))
}
