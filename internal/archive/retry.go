package archive

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// RetryPolicy governs retries of remote operations: bounded attempts with
// doubling, jittered backoff. One policy instance is applied uniformly to
// every upload and fetch.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the policy used in production runs.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// ShouldRetry decides whether another attempt is allowed after err.
// Context cancellation and fatal remote errors are never retried.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Backoff returns the wait duration before the given (1-based) attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Do runs op with the policy, sleeping between attempts. isFatal short-
// circuits retries for errors retrying cannot fix. It returns the number of
// attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, isFatal func(error) bool, op func() error) (int, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return attempt, nil
		}
		if isFatal != nil && isFatal(lastErr) {
			return attempt, lastErr
		}
		if !p.ShouldRetry(lastErr, attempt) {
			return attempt, lastErr
		}
		select {
		case <-time.After(p.Backoff(attempt)):
		case <-ctx.Done():
			return attempt, ctx.Err()
		}
	}
}
