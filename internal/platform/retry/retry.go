// Package retry runs gateway calls with exponential backoff on transient failures.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config defines retry behavior.
type Config struct {
	MaxRetries     int // 0 = no retries
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Permanent wraps err so that IsRetryable reports false regardless of its text.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

var nonRetryable = []string{
	"invalid",
	"malformed",
	"unverified",
	"not verified",
	"recipient is required",
	"unsubscribed",
}

var retryable = []string{
	"timeout",
	"connection refused",
	"connection reset",
	"temporary",
	"rate limit",
	"throttl",
	"too many requests",
	"try again",
	"502",
	"503",
	"504",
}

// IsRetryable reports whether err looks transient. Unknown errors are not
// retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, s := range nonRetryable {
		if strings.Contains(msg, s) {
			return false
		}
	}
	for _, s := range retryable {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// WithRetry calls fn until it succeeds, returns a non-retryable error, or
// the retry budget is spent. The wait between attempts honors ctx.
func WithRetry(ctx context.Context, logger zerolog.Logger, cfg Config, operation string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info().Str("operation", operation).Int("attempt", attempt+1).Msg("operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			logger.Warn().Err(err).Str("operation", operation).Int("attempts", attempt+1).Msg("max retries exceeded")
			return err
		}

		backoff := Backoff(cfg, attempt)
		logger.Warn().Err(err).
			Str("operation", operation).
			Int("attempt", attempt+1).
			Int("max_attempts", cfg.MaxRetries+1).
			Dur("backoff", backoff).
			Msg("operation failed, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// Backoff returns the wait before retry number attempt+1, with +/-25% jitter,
// capped at MaxBackoff.
func Backoff(cfg Config, attempt int) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffFactor, float64(attempt))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(backoff + jitter)
}
