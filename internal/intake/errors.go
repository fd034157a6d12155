package intake

import "errors"

// ErrInvalidMessage marks a delivery that can never be enqueued
var ErrInvalidMessage = errors.New("invalid intake message")

// RetryableError wraps a failure worth redelivering, such as a full queue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}
