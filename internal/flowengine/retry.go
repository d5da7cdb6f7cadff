package flowengine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

// withRetry runs op up to retry's MaxAttempts times, with exponential
// delay growth per retry.BackoffMultiplier starting at retry.InitialDelay.
// A nil retry runs op exactly once. Fixed/linear backoff strategies are a
// Workflow-only concept (aoftypes.WorkflowRetryConfig) approximated into
// this multiplier at translation time — see workflow.go.
func withRetry(ctx context.Context, retry *aoftypes.FlowRetryConfig, op func() error) error {
	if retry == nil {
		return op()
	}

	maxAttempts := retry.MaxAttemptsOrDefault()
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = parseDurationOrDefault(retry.InitialDelay, 500*time.Millisecond)
	eb.Multiplier = retry.BackoffMultiplierOrDefault()
	eb.MaxInterval = 30 * time.Second

	bo := backoff.WithMaxRetries(eb, uint64(maxAttempts-1))
	bo = backoff.WithContext(bo, ctx)

	return backoff.Retry(op, bo)
}

func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
