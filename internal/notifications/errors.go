package notifications

import "errors"

// Repository errors.
var (
	ErrNotificationNotFound = errors.New("notification not found")
)

// Aggregator errors.
var (
	ErrPerItemReadUnsupported = errors.New("per-item read state is not available with the cursor read model")
	ErrClosed                 = errors.New("notification feed is closed")
	ErrUnknownStream          = errors.New("unknown insert stream")
)

// RetryableError wraps a failed backend write or read that may succeed if repeated.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// IsRetryable reports whether err, or any error it wraps, is marked retryable.
func IsRetryable(err error) bool {
	var r *RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}
