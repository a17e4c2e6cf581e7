package scheduler

import (
	"context"
	"time"

	obsmetrics "github.com/packhouse/packline/internal/observability/metrics"
	"go.uber.org/zap"
)

// retryWithBackoff reruns fn up to attempts times, doubling the delay
// between tries. Non-retryable errors (conflicts, business-rule failures)
// stop immediately; the archival pipeline is idempotent so retrying a
// transient failure from scratch is safe.
func (s *Scheduler) retryWithBackoff(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}

	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !obsmetrics.IsSchedulerErrorRetryable(err) {
			return err
		}
		if attempt >= attempts {
			break
		}

		s.logger(ctx).Warn("retrying after transient failure",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return lastErr
}
