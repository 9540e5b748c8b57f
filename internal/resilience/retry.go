package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Retryable reports whether an error looks transient: timeouts, connection
// resets, network failures, and throttling/gateway status codes. Anything
// else is treated as permanent and must not be retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout",
		"timed out",
		"connection",
		"network",
		"429",
		"502",
		"503",
		"rate limit",
		"temporarily unavailable",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Retrier runs an operation with bounded retries and exponential backoff.
// Attempt n (1-based) sleeps baseDelay * 2^(n-1) before retrying. Only
// errors accepted by Classify are retried; others abort immediately.
type Retrier struct {
	MaxRetries int
	BaseDelay  time.Duration
	Classify   func(error) bool

	sleep func(context.Context, time.Duration) error // for testing
}

// NewRetrier creates a Retrier with the given bounds and the Retryable
// classifier. maxRetries counts retries, not total attempts.
func NewRetrier(maxRetries int, baseDelay time.Duration) *Retrier {
	return &Retrier{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		Classify:   Retryable,
	}
}

// SetSleep overrides the backoff sleep, used by tests to avoid real delays.
func (r *Retrier) SetSleep(fn func(context.Context, time.Duration) error) {
	r.sleep = fn
}

// Do runs op up to MaxRetries+1 times. It returns the first permanent error
// or the last error after retries are exhausted.
func (r *Retrier) Do(ctx context.Context, op func(context.Context) error) error {
	classify := r.Classify
	if classify == nil {
		classify = Retryable
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = ctxSleep
	}

	var lastErr error
	for attempt := 1; attempt <= r.MaxRetries+1; attempt++ {
		if attempt > 1 {
			delay := r.BaseDelay << (attempt - 2) // baseDelay * 2^(attempt-1) for retry n
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !classify(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// ctxSleep waits for d or until the context is cancelled.
func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
