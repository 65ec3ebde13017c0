package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrClientCanceled marks a transfer aborted by the client. It is never
	// retried and excluded from failure accounting.
	ErrClientCanceled = errors.New("canceled by client")

	// ErrQuotaExceeded marks a terminal upstream quota/limit condition.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrAuthExpired marks an upstream 401/403. Callers get exactly one
	// forced token refresh and one full retry before it becomes terminal.
	ErrAuthExpired = errors.New("upstream authorization expired")

	// ErrValidation marks input rejected before any network call.
	ErrValidation = errors.New("validation error")

	// ErrFileTooLarge is the pre-flight size ceiling rejection.
	ErrFileTooLarge = fmt.Errorf("%w: file too large", ErrValidation)

	// ErrUpstreamProtocol marks an empty or undecodable upstream response
	// that survived all retry attempts.
	ErrUpstreamProtocol = errors.New("upstream protocol error")
)

// StatusError carries an unexpected upstream HTTP status.
type StatusError struct {
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("upstream status %d", e.Code)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Reason)
}

// RetryableStatus reports whether an upstream HTTP status is worth another
// attempt: request timeout, throttling, or any server-side failure.
func RetryableStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}

// AsCanceled maps context cancellation onto ErrClientCanceled so callers see
// one distinguished error regardless of where the abort was observed.
// Other errors pass through unchanged.
func AsCanceled(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %v", ErrClientCanceled, err)
	}
	return err
}

// Terminal reports whether err must not be retried under any policy.
func Terminal(err error) bool {
	return errors.Is(err, ErrClientCanceled) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrValidation)
}
