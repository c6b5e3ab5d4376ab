package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestWithRetry_SucceedsAfterRateLimits(t *testing.T) {
	var slept []time.Duration
	sleep := func(d time.Duration) { slept = append(slept, d) }

	calls := 0
	err := withRetry(context.Background(), sleep, func() error {
		calls++
		if calls < 3 {
			return &RateLimitError{Detail: "slow down"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(slept) != 2 || slept[0] != time.Second || slept[1] != 2*time.Second {
		t.Fatalf("unexpected backoff schedule %v", slept)
	}
}

func TestWithRetry_ExternalFailureNotRetried(t *testing.T) {
	sleep := func(time.Duration) { t.Fatal("should not sleep for external failures") }

	calls := 0
	wantErr := &externalError{errors.New("upstream exploded")}
	err := withRetry(context.Background(), sleep, func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected original error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("5xx should propagate on the first attempt, saw %d calls", calls)
	}
}

func TestWithRetry_RetryAfterHintOverridesBackoff(t *testing.T) {
	var slept []time.Duration
	sleep := func(d time.Duration) { slept = append(slept, d) }

	calls := 0
	err := withRetry(context.Background(), sleep, func() error {
		calls++
		if calls == 1 {
			return &RateLimitError{RetryAfter: 3 * time.Second, Detail: "slow down"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(slept) != 1 || slept[0] < 3*time.Second {
		t.Fatalf("expected a single wait of at least 3s, got %v", slept)
	}
}

func TestWithRetry_GivesUpAfterBudget(t *testing.T) {
	sleep := func(time.Duration) {}

	calls := 0
	err := withRetry(context.Background(), sleep, func() error {
		calls++
		return &RateLimitError{Detail: "always limited"}
	})
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if calls != retryAttempts {
		t.Fatalf("expected %d attempts, got %d", retryAttempts, calls)
	}
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("final error should wrap the rate limit error: %v", err)
	}
}

func TestWithRetry_NonRetryableFailsImmediately(t *testing.T) {
	sleep := func(time.Duration) { t.Fatal("should not sleep for non-retryable errors") }

	calls := 0
	wantErr := fmt.Errorf("API request failed: status=400 error=bad request")
	err := withRetry(context.Background(), sleep, func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected original error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}
