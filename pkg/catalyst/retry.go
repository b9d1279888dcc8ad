package catalyst

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy retries idempotent requests with exponential backoff and jitter.
type RetryPolicy struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		BaseDelay:    200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.2,
	}
}

// NoRetry performs every request exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 1}
}

type retryableFunc func(ctx context.Context) error

func (p RetryPolicy) do(ctx context.Context, logger *zap.Logger, operation string, fn retryableFunc) error {
	attempts := p.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isRetryableError(err) {
			return err
		}
		lastErr = err

		logger.Debug("Request failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < attempts-1 {
			select {
			case <-time.After(p.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return lastErr
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	jitter := delay * p.JitterFactor * (2*rand.Float64() - 1)
	delay += jitter
	if delay < 0 {
		delay = float64(p.BaseDelay)
	}

	return time.Duration(delay)
}

// isRetryableError treats transport failures, throttling and 5xx answers as
// transient. Cancellation, missing content and client errors are final.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
