// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryWithBackoff_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()
	calls := 0
	err := RetryWithBackoff(context.Background(), 3, 10*time.Millisecond, func(attempt int) (bool, error) {
		calls++
		return false, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryWithBackoff_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	calls := 0
	err := RetryWithBackoff(context.Background(), 5, 10*time.Millisecond, func(attempt int) (bool, error) {
		calls++
		if attempt < 2 {
			return true, errors.New("transient")
		}
		return false, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryWithBackoff_ExhaustsRetries(t *testing.T) {
	t.Parallel()
	calls := 0
	err := RetryWithBackoff(context.Background(), 3, 10*time.Millisecond, func(attempt int) (bool, error) {
		calls++
		return true, errors.New("always transient")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "always transient" {
		t.Fatalf("expected last error, got: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryWithBackoff_ContextCancelledBetweenRetries(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryWithBackoff(ctx, 5, 10*time.Millisecond, func(attempt int) (bool, error) {
		calls++
		if attempt == 0 {
			cancel() // Cancel after first attempt
			return true, errors.New("transient")
		}
		t.Fatal("should not reach second attempt")
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryWithBackoff_NonTransientExitsImmediately(t *testing.T) {
	t.Parallel()
	calls := 0
	permanentErr := errors.New("permanent")
	err := RetryWithBackoff(context.Background(), 5, 10*time.Millisecond, func(attempt int) (bool, error) {
		calls++
		return false, permanentErr
	})
	if !errors.Is(err, permanentErr) {
		t.Fatalf("expected permanent error, got: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryWithBackoff_BackoffTiming(t *testing.T) {
	t.Parallel()
	start := time.Now()
	_ = RetryWithBackoff(context.Background(), 3, 50*time.Millisecond, func(attempt int) (bool, error) {
		return true, errors.New("retry")
	})
	elapsed := time.Since(start)
	// Expected: 50ms (attempt 0->1) + 100ms (attempt 1->2) = 150ms minimum
	if elapsed < 100*time.Millisecond {
		t.Fatalf("expected at least 100ms of backoff, got %v", elapsed)
	}
}

func TestRetryDelay_Capped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, MaxBackoff},
		{19, MaxBackoff},
		{40, MaxBackoff},
		{100, MaxBackoff},
	}
	for _, tt := range tests {
		if got := retryDelay(2*time.Second, tt.attempt); got != tt.want {
			t.Errorf("retryDelay(2s, %d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPullWithRetry_RetriesRegistryFailures(t *testing.T) {
	t.Parallel()

	engine, recorder := newMockDockerEngine(t)
	recorder.On("pull", MockResponse{Stderr: "TLS handshake timeout", ExitCode: 1})

	err := PullWithRetry(context.Background(), engine, "img:latest", 3, time.Millisecond, nil, nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	recorder.AssertInvocationCount(t, 3)
}

func TestPullWithRetry_InvalidImageNotRetried(t *testing.T) {
	t.Parallel()

	engine, recorder := newMockDockerEngine(t)

	err := PullWithRetry(context.Background(), engine, "", 3, time.Millisecond, nil, nil)
	if !errors.Is(err, ErrInvalidImageTag) {
		t.Fatalf("expected ErrInvalidImageTag, got %v", err)
	}
	recorder.AssertInvocationCount(t, 0)
}

func TestPullWithRetry_Succeeds(t *testing.T) {
	t.Parallel()

	engine, recorder := newMockDockerEngine(t)
	if err := PullWithRetry(context.Background(), engine, "img:latest", 3, time.Millisecond, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recorder.AssertInvocationCount(t, 1)
}

func TestRetryWithBackoff_ZeroAttemptsRunsOnce(t *testing.T) {
	t.Parallel()
	calls := 0
	_ = RetryWithBackoff(context.Background(), 0, time.Millisecond, func(int) (bool, error) {
		calls++
		return true, errors.New("x")
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}
