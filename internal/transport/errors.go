package transport

import "errors"

// SendError classifies a transport failure. Permanent failures move the
// entry straight to failed, the rest are rescheduled with backoff.
type SendError struct {
	Err       error
	Permanent bool
}

func (e *SendError) Error() string { return e.Err.Error() }

func (e *SendError) Unwrap() error { return e.Err }

// IsRetryable reports whether another attempt may succeed.
func (e *SendError) IsRetryable() bool { return !e.Permanent }

// NewRetryableError marks err as transient.
func NewRetryableError(err error) *SendError {
	return &SendError{Err: err}
}

// NewNonRetryableError marks err as permanent.
func NewNonRetryableError(err error) *SendError {
	return &SendError{Err: err, Permanent: true}
}

// IsRetryable classifies err. Errors implementing IsRetryable() bool decide
// for themselves. Unclassified errors are retried.
func IsRetryable(err error) bool {
	var classified interface{ IsRetryable() bool }
	if errors.As(err, &classified) {
		return classified.IsRetryable()
	}
	return true
}
