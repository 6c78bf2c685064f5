package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in storage
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyRunning is returned when starting a job that is
	// already RUNNING
	ErrJobAlreadyRunning = errors.New("job is already running")

	// ErrJobTerminal is returned when starting a job that has reached
	// COMPLETED or FAILED
	ErrJobTerminal = errors.New("job is in a terminal status")

	// ErrRunAlreadyClaimed is returned when a worker attempts to claim a
	// run that another worker holds
	ErrRunAlreadyClaimed = errors.New("run already claimed by another worker")

	// ErrUserNotFound is returned when a user cannot be found in storage
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailTaken is returned when registering a user with an email
	// that already exists
	ErrEmailTaken = errors.New("email already registered")
)

// RetryableError wraps transient errors that should trigger another attempt
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

// IsRetryable reports whether err carries a RetryableError.
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}
