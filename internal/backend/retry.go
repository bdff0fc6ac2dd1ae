package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// RetryConfig configures retry behavior for idempotent calls.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first. Zero disables
	// retries.
	MaxRetries int

	// InitialBackoff is the wait before the first retry.
	// Default: 200ms
	InitialBackoff time.Duration

	// MaxBackoff caps every wait, including Retry-After hints.
	// Default: 5s
	MaxBackoff time.Duration

	// BackoffMultiplier grows the wait after each retry.
	// Default: 2
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset backoff fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()

	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// retryable reports whether err is worth another attempt.
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	// Anything else is a transport failure: refused connection, reset, EOF.
	return true
}

// backoff builds the wait schedule for one call: exponential from
// InitialBackoff, replaced by the server's Retry-After hint when the last
// error carried one, capped at MaxBackoff and limited to MaxRetries waits.
func (cfg RetryConfig) backoff(lastErr *error) retry.Backoff {
	next := cfg.InitialBackoff
	var b retry.Backoff = retry.BackoffFunc(func() (time.Duration, bool) {
		wait := next
		next = time.Duration(float64(next) * cfg.BackoffMultiplier)

		var apiErr *APIError
		if errors.As(*lastErr, &apiErr) && apiErr.RetryAfter > 0 {
			wait = apiErr.RetryAfter
		}
		return wait, false
	})
	b = retry.WithCappedDuration(cfg.MaxBackoff, b)
	return retry.WithMaxRetries(uint64(cfg.MaxRetries), b)
}

// withRetry runs fn until it succeeds, fails permanently or the retry
// budget is spent. It returns the number of attempts made.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) (int, error) {
	cfg := c.retry
	start := time.Now()

	var (
		attempts int
		lastErr  error
	)
	schedule := cfg.backoff(&lastErr)
	logged := retry.BackoffFunc(func() (time.Duration, bool) {
		wait, stop := schedule.Next()
		if !stop {
			c.logRetry(ctx, op, attempts, cfg.MaxRetries+1, wait, lastErr)
		}
		return wait, stop
	})

	err := retry.Do(ctx, logged, func(context.Context) error {
		attempts++
		lastErr = fn()
		if retryable(lastErr) {
			return retry.RetryableError(lastErr)
		}
		return lastErr
	})

	switch {
	case err == nil:
		if attempts > 1 {
			c.logger.Info(ctx, "backend call recovered after retries",
				zap.String("operation", op),
				zap.Int("attempts", attempts),
				zap.Duration("total_time", time.Since(start)))
		}
		return attempts, nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return attempts, fmt.Errorf("%s canceled: %w", op, err)
	case !retryable(err):
		return attempts, err
	}

	c.logger.Warn(ctx, "backend call failed after retries",
		zap.String("operation", op),
		zap.Int("total_attempts", attempts),
		zap.Duration("total_time", time.Since(start)),
		zap.Error(err))

	if cfg.MaxRetries == 0 {
		return attempts, err
	}
	return attempts, fmt.Errorf("%s failed after %d retries: %w", op, cfg.MaxRetries, err)
}
