package autoscale

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/afewell-hh/demon/internal/telemetry"
	"github.com/cenkalti/backoff/v4"
)

// Client dispatches a hint event to an external autoscaler.
type Client interface {
	HandleScaleHint(ctx context.Context, hint HintEvent) error
}

// LogOnlyClient logs the recommendation and always succeeds, the default
// when no external autoscaler endpoint is configured.
type LogOnlyClient struct {
	Logger telemetry.Logger
}

func (c LogOnlyClient) HandleScaleHint(ctx context.Context, hint HintEvent) error {
	logger := c.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	logger.Info(ctx, "scale recommendation (log-only mode)",
		"tenantId", hint.TenantID,
		"recommendation", hint.Recommendation,
		"queueLag", hint.Metrics.QueueLag,
		"p95LatencyMs", hint.Metrics.P95LatencyMs,
		"errorRate", hint.Metrics.ErrorRate,
		"reason", hint.Reason,
	)
	return nil
}

// HTTPClient POSTs hint events to an external autoscale endpoint with a
// bounded, deterministic retry schedule.
type HTTPClient struct {
	Endpoint   string
	HTTPClient *http.Client
	// RetryBackoffMs and MaxRetryAttempts mirror the spec's consumer-side
	// retry knobs; the backoff schedule itself is deterministic
	// (RandomizationFactor 0) so retry timing is reproducible in tests.
	RetryBackoffMs   int64
	MaxRetryAttempts int
}

type httpHintRequest struct {
	TenantID       string         `json:"tenant_id"`
	Recommendation Recommendation `json:"recommendation"`
	Metrics        Metrics        `json:"metrics"`
	Reason         string         `json:"reason"`
	Timestamp      time.Time      `json:"timestamp"`
	TraceID        string         `json:"trace_id,omitempty"`
}

func (c HTTPClient) HandleScaleHint(ctx context.Context, hint HintEvent) error {
	body, err := json.Marshal(httpHintRequest{
		TenantID:       hint.TenantID,
		Recommendation: hint.Recommendation,
		Metrics:        hint.Metrics,
		Reason:         hint.Reason,
		Timestamp:      hint.Ts,
		TraceID:        hint.TraceID,
	})
	if err != nil {
		return fmt.Errorf("autoscale: encode request: %w", err)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	policy := DeterministicBackoff(time.Duration(c.RetryBackoffMs)*time.Millisecond, c.MaxRetryAttempts)

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("autoscale: build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("autoscale: request failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		return fmt.Errorf("autoscale: endpoint returned status %d", resp.StatusCode)
	}, policy)
}

// DeterministicBackoff pins a fixed exponential schedule (no jitter) so
// retry timing in tests is reproducible, per the spec's note that retry
// timing must be observably deterministic.
func DeterministicBackoff(initial time.Duration, maxRetries int) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.Multiplier = 2
	eb.MaxInterval = initial * time.Duration(1<<uint(maxRetries))
	eb.RandomizationFactor = 0
	return backoff.WithMaxRetries(eb, uint64(maxRetries))
}
