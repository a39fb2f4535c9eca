// Package resilience provides fault-tolerance patterns:
// retry with exponential backoff and circuit breaking.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
)

// Config holds retry parameters.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	// MaxBackoff caps a single wait (backoff plus jitter). Zero means no cap.
	MaxBackoff time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Nil retries everything.
	Retryable func(error) bool
}

// RetryWithBackoff executes fn with exponential backoff + jitter.
// It respects context cancellation and gives up immediately on errors
// the Retryable predicate rejects.
func RetryWithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			return lastErr
		}

		if attempt < cfg.MaxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * cfg.InitialBackoff
			jitter := time.Duration(rand.Int63n(int64(backoff/2) + 1))
			wait := backoff + jitter
			if cfg.MaxBackoff > 0 && wait > cfg.MaxBackoff {
				wait = cfg.MaxBackoff
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return lastErr
}

// BreakerConfig holds circuit breaker parameters.
type BreakerConfig struct {
	FailureThreshold uint32        // consecutive failures before opening
	Cooldown         time.Duration // open -> half-open
	// OnStateChange observes transitions; nil is fine.
	OnStateChange func(name, from, to string)
}

// NewCircuitBreaker creates a breaker that opens after FailureThreshold
// consecutive failures and probes with a single request after Cooldown.
// Any success while closed resets the failure count.
func NewCircuitBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(n string, from, to gobreaker.State) {
			cfg.OnStateChange(n, from.String(), to.String())
		}
	}
	return gobreaker.NewCircuitBreaker(settings)
}

// IsCircuitOpen reports whether err came from an open or saturated breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
