// Package retry holds the transient-failure policy shared by every external
// service client: LLM, embeddings, and vector index.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// MaxRetries is the default number of attempts for a retryable call.
const MaxRetries = 3

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int // 0 for transport errors
	Message    string
	Err        error
}

func (e *RetryableError) Error() string {
	if e.StatusCode == 0 && e.Err != nil {
		return fmt.Sprintf("retryable error: %v", e.Err)
	}
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, Truncate(e.Message, 200))
}

func (e *RetryableError) Unwrap() error { return e.Err }

// Transport wraps a network-level error as retryable.
func Transport(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &RetryableError{Err: err}
}

// Status returns a RetryableError for 429 and 5xx responses, nil otherwise.
func Status(code int, body []byte) error {
	if code == 429 || code >= 500 {
		return &RetryableError{StatusCode: code, Message: string(body)}
	}
	return nil
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// Policy bounds retry attempts and backoff.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Default is one second doubling up to thirty, three attempts.
var Default = Policy{MaxRetries: MaxRetries, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay * time.Duration(1<<uint(attempt))
	if p.MaxDelay > 0 && base > p.MaxDelay {
		base = p.MaxDelay
	}
	if base <= 1 {
		return base
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

// Backoff is Default.Backoff.
func Backoff(attempt int) time.Duration { return Default.Backoff(attempt) }

// Do calls fn until it succeeds, returns a non-retryable error, or runs out
// of attempts. The last error is returned on exhaustion.
func Do[T any](ctx context.Context, p Policy, log *slog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := max(p.MaxRetries, 1)
	var (
		out     T
		lastErr error
	)
	for attempt := range attempts {
		out, lastErr = fn(ctx)
		if lastErr == nil || !IsRetryable(lastErr) {
			return out, lastErr
		}
		if attempt == attempts-1 {
			break
		}
		if log != nil {
			log.Warn("retryable error", "op", op, "attempt", attempt, "error", lastErr)
		}
		select {
		case <-time.After(p.Backoff(attempt)):
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
	return out, fmt.Errorf("%s: %d attempts: %w", op, attempts, lastErr)
}

// Truncate cuts s to n bytes with a trailing "...".
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
