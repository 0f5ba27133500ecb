// Package utils provides shared utility functions.
package utils

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Retry executes fn with exponential backoff until it succeeds, attempts are
// exhausted, or the context is cancelled.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return lastErr
}

// CalculateBackoff returns the deterministic backoff delay for a given
// attempt: initialDelay doubled per attempt, capped at maxDelay.
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	delay := float64(initialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	return time.Duration(delay)
}

// JitteredBackoff returns CalculateBackoff plus up to 25% random jitter,
// still capped at maxDelay.
func JitteredBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	delay := CalculateBackoff(attempt, initialDelay, maxDelay)
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	if delay+jitter > maxDelay {
		return maxDelay
	}
	return delay + jitter
}
