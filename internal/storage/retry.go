package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/contribrank/pkg/types"
)

// RetryConfig configures exponential backoff when connecting to a store
type RetryConfig struct {
	MaxAttempts int           // Total attempts, including the first
	BaseDelay   time.Duration // Delay after the first failure
	MaxDelay    time.Duration // Cap on the delay between attempts
	Multiplier  float64       // Growth factor applied after each failure
}

// DefaultRetryConfig returns the connect policy used by NewPostgresStore
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 4,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2,
	}
}

// retryWithBackoff calls fn until it succeeds, returns an error other than
// IndexUnavailableError, or the attempts run out. The last error is returned.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	backoff := config.BaseDelay
	attempts := max(config.MaxAttempts, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !errors.Is(err, types.ErrIndexUnavailable) || ctx.Err() != nil {
			return zero, err
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
				backoff = time.Duration(float64(backoff) * config.Multiplier)
				if backoff > config.MaxDelay {
					backoff = config.MaxDelay
				}
			}
		}
	}
	return zero, lastErr
}
