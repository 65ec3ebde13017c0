package storage

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	// retryBase is the first backoff delay; subsequent delays double.
	retryBase = 750 * time.Millisecond

	// retryAttempts is the total number of attempts (first call included).
	retryAttempts = 3
)

// Retry runs fn under the shared retry policy: exponential backoff starting
// at 750ms with 20% jitter, three attempts in total. fn marks transient
// failures with retry.RetryableError; anything else stops the loop.
// A canceled context stops immediately and surfaces as ErrClientCanceled.
func Retry(ctx context.Context, fn retry.RetryFunc) error {
	b := retry.NewExponential(retryBase)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithMaxRetries(retryAttempts-1, b)

	err := retry.Do(ctx, b, fn)
	return AsCanceled(ctx, err)
}
