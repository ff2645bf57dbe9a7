// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// MaxBackoff caps a single wait between retries.
const MaxBackoff = 30 * time.Second

// RetryWithBackoff retries op up to maxAttempts times with exponential backoff.
// Each wait doubles from baseBackoff and is capped at MaxBackoff.
// It checks ctx between retries so a cancelled run stops immediately.
//
// op returns (shouldRetry bool, err error). If shouldRetry is false, err is
// returned immediately (nil on success, non-nil on permanent failure).
// On retry exhaustion, the last error is returned.
func RetryWithBackoff(
	ctx context.Context,
	maxAttempts int,
	baseBackoff time.Duration,
	op func(attempt int) (retry bool, err error),
) error {
	var lastErr error
	for attempt := range max(maxAttempts, 1) {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-time.After(retryDelay(baseBackoff, attempt)):
			}
		}

		retry, err := op(attempt)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// retryDelay returns the wait before the given attempt (1-based retries).
func retryDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < MaxBackoff; i++ {
		d *= 2
	}
	return min(d, MaxBackoff)
}

// PullWithRetry pulls image, retrying registry failures up to attempts times.
// Cancellation and invalid image references are not retried.
func PullWithRetry(ctx context.Context, engine Engine, image ImageTag, attempts int, backoff time.Duration, stdout, stderr io.Writer) error {
	return RetryWithBackoff(ctx, attempts, backoff, func(int) (bool, error) {
		err := engine.Pull(ctx, image, stdout, stderr)
		if err == nil {
			return false, nil
		}
		if ctx.Err() != nil || errors.Is(err, ErrInvalidImageTag) {
			return false, err
		}
		return true, err
	})
}
