package pipeline

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/spez-io/spez/pkg/spezerrors"
)

// RetryPolicy retries sink writes that fail with a retryable error.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// BackoffBase is the delay before the first retry; it doubles on each
	// further retry.
	BackoffBase time.Duration `yaml:"backoff_base" json:"backoff_base"`
	// BackoffMax caps the delay.
	BackoffMax time.Duration `yaml:"backoff_max" json:"backoff_max"`
}

// DefaultRetryPolicy retries three times starting at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BackoffBase: 100 * time.Millisecond,
		BackoffMax:  5 * time.Second,
	}
}

// backoff returns the delay before retry attempt (1-based): exponential
// with ±12.5% jitter, capped at BackoffMax.
func (r RetryPolicy) backoff(attempt int) time.Duration {
	if r.BackoffBase <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := time.Duration(1<<uint(attempt-1)) * r.BackoffBase //nolint:gosec // G115: attempt is bounded above
	if spread := int64(delay / 4); spread > 0 {
		delay += time.Duration(rand.Int63n(spread)) - delay/8 //nolint:gosec // G404: jitter needs no crypto
	}
	if r.BackoffMax > 0 && delay > r.BackoffMax {
		delay = r.BackoffMax
	}
	return delay
}

// do runs fn until it succeeds, fails with a non-retryable error, retries
// run out or ctx ends.
func (r RetryPolicy) do(ctx context.Context, logger *zap.Logger, fn func() error) error {
	err := fn()
	for attempt := 1; err != nil && attempt <= r.MaxRetries && spezerrors.IsRetryable(err); attempt++ {
		delay := r.backoff(attempt)
		logger.Warn("retrying sink write",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		err = fn()
	}
	return err
}
