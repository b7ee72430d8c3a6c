// Package retryx centralizes the retry policy used for every external
// service call. Transient failures back off exponentially with jitter;
// failures wrapped with Permanent stop immediately.
package retryx

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/yungbote/storychain-backend/internal/logger"
)

type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// OnRetry fires before each re-attempt with the attempt number just
	// failed (1-based) and the error that caused the retry.
	OnRetry func(attempt int, err error)
}

// Fast is the preset for interactive-path calls.
func Fast() Options {
	return Options{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Slow is the preset for sweep/background calls.
func Slow() Options {
	return Options{MaxAttempts: 3, InitialDelay: 2 * time.Second, MaxDelay: 15 * time.Second}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. Do returns the underlying error
// without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do runs op up to opts.MaxAttempts times. Context cancellation and
// Permanent-wrapped errors end the loop immediately.
func Do[T any](ctx context.Context, log *logger.Logger, name string, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 10 * time.Second
	}

	backoff := opts.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		var pe *permanentError
		if errors.As(err, &pe) {
			return zero, pe.err
		}
		if attempt == opts.MaxAttempts {
			break
		}

		sleepFor := backoff
		if sleepFor > opts.MaxDelay {
			sleepFor = opts.MaxDelay
		}
		sleepFor = jitter(sleepFor)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err)
		}
		if log != nil {
			log.Warn("Retrying operation",
				"op", name,
				"attempt", attempt,
				"max_attempts", opts.MaxAttempts,
				"sleep", sleepFor.String(),
				"error", err.Error(),
			)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}
	return zero, fmt.Errorf("%s failed after %d attempts: %w", name, opts.MaxAttempts, lastErr)
}

// Safe runs op once and swallows any failure, returning fallback instead.
// Used where a degraded result beats a failed request.
func Safe[T any](log *logger.Logger, name string, fallback T, op func() (T, error)) T {
	out, err := op()
	if err != nil {
		if log != nil {
			log.Warn("Operation failed, using fallback", "op", name, "error", err.Error())
		}
		return fallback
	}
	return out
}

// +/- 20%
func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delta := base.Seconds() * 0.2
	low := base.Seconds() - delta
	high := base.Seconds() + delta
	if low < 0 {
		low = 0
	}
	v := low + rand.Float64()*(high-low)
	return time.Duration(v * float64(time.Second))
}
