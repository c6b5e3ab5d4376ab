package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/seynadio/chatbridge/pkg/logger"
)

// RateLimitError marks an HTTP 429. RetryAfter is zero when the server
// sent no hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Detail     string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s: %s", e.RetryAfter, e.Detail)
	}
	return "rate limited: " + e.Detail
}

const (
	retryAttempts      = 5
	retryBackoffFactor = 2
	retryBaseDelay     = time.Second
)

// withRetry runs op up to retryAttempts times, sleeping with exponential
// backoff between failures. A Retry-After hint on a rate limit error
// overrides the computed delay. Only rate limit errors are retried;
// every other failure propagates on the first attempt.
func withRetry(ctx context.Context, sleep func(time.Duration), op func() error) error {
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	delay := retryBaseDelay
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == retryAttempts {
			break
		}

		wait := delay
		var rle *RateLimitError
		if errors.As(lastErr, &rle) && rle.RetryAfter > 0 {
			wait = rle.RetryAfter
		}
		logger.WarnCF("providers", "request failed, backing off", map[string]interface{}{
			"attempt": attempt,
			"wait":    wait.String(),
			"error":   lastErr.Error(),
		})
		sleep(wait)
		delay *= retryBackoffFactor

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", retryAttempts, lastErr)
}

// externalError marks a 5xx or transport failure. Classified for
// callers but never retried; only rate limits are.
type externalError struct{ err error }

func (e *externalError) Error() string { return e.err.Error() }
func (e *externalError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// parseRetryAfter reads a Retry-After header as delay seconds. HTTP-date
// values are ignored; the backoff schedule covers those.
func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
