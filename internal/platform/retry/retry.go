// Package retry provides the bounded retry-with-backoff primitive used by
// every network call.
package retry

import (
	"context"
	"strings"
	"time"
)

// Options controls a retry loop.
type Options struct {
	// MaxRetries is the total number of attempts, including the first.
	MaxRetries int
	Delay      time.Duration
	// Exponential doubles the delay after every failed attempt.
	Exponential bool
	// RetryableErrors limits retries to errors whose message contains one of
	// the substrings. Empty means every error is retryable.
	RetryableErrors []string
	// Retryable, when set, replaces the RetryableErrors match.
	Retryable func(error) bool
	// Permanent short-circuits retries regardless of RetryableErrors.
	Permanent func(error) bool
	// OnRetry observes each failed attempt that will be retried.
	OnRetry func(err error, attempt int)
	// Sleep replaces the delay; tests inject a recorder here.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Defaults mirrors the engine-wide policy: 3 attempts, 1s exponential backoff.
func Defaults() Options {
	return Options{MaxRetries: 3, Delay: time.Second, Exponential: true}
}

// Do runs op until it succeeds, returns a non-retryable error or exhausts the
// attempt budget. The last error is returned unchanged.
func Do(ctx context.Context, opts Options, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := opts.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var zero T
	for attempt := 1; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= attempts || !opts.retryable(err) {
			return zero, err
		}
		if opts.OnRetry != nil {
			opts.OnRetry(err, attempt)
		}
		if serr := sleep(ctx, opts.backoff(attempt)); serr != nil {
			return zero, err
		}
	}
}

// backoff is the delay that follows failed attempt number attempt.
func (o Options) backoff(attempt int) time.Duration {
	if !o.Exponential || attempt <= 1 {
		return o.Delay
	}
	return o.Delay * time.Duration(1<<uint(attempt-1))
}

func (o Options) retryable(err error) bool {
	if o.Permanent != nil && o.Permanent(err) {
		return false
	}
	if o.Retryable != nil {
		return o.Retryable(err)
	}
	if len(o.RetryableErrors) == 0 {
		return true
	}
	msg := err.Error()
	for _, marker := range o.RetryableErrors {
		if marker != "" && strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
