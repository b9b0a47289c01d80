package domain

import "errors"

var (
	// ErrInvalidPayload is returned when a transaction payload cannot be processed as a document
	ErrInvalidPayload = errors.New("invalid transaction payload")

	// ErrInvalidMessage is returned for broker messages that do not name a transaction
	ErrInvalidMessage = errors.New("invalid transaction event")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
