package autoscale

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThresholdsFromEnvDefaultsWhenUnset(t *testing.T) {
	got, err := ThresholdsFromEnv()
	require.NoError(t, err)
	require.Equal(t, DefaultThresholds(), got)
}

func TestThresholdsFromEnvOverlaysSetValues(t *testing.T) {
	t.Setenv("SCALE_HINT_QUEUE_LAG_HIGH", "750")
	t.Setenv("SCALE_HINT_ERROR_RATE_HIGH", "0.1")

	got, err := ThresholdsFromEnv()
	require.NoError(t, err)
	require.Equal(t, uint64(750), got.QueueLagHigh)
	require.Equal(t, 0.1, got.ErrorRateHigh)
	require.Equal(t, DefaultThresholds().QueueLagLow, got.QueueLagLow)
}

func TestThresholdsFromEnvRejectsMalformedValue(t *testing.T) {
	t.Setenv("SCALE_HINT_QUEUE_LAG_HIGH", "not-a-number")

	_, err := ThresholdsFromEnv()
	require.Error(t, err)
}
