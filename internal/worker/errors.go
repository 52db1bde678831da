package worker

import (
	"errors"
	"fmt"
	"time"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
)

// ErrInvalidPayload is returned by handlers when job data cannot be decoded.
// It is never retried.
var ErrInvalidPayload = errors.New("invalid job payload")

// UnrecoverableError marks a failure that retrying cannot fix
type UnrecoverableError struct {
	Err error
}

func (e *UnrecoverableError) Error() string {
	return "unrecoverable error: " + e.Err.Error()
}

func (e *UnrecoverableError) Unwrap() error {
	return e.Err
}

// Unrecoverable wraps err so the job fails without further attempts
func Unrecoverable(err error) error {
	return &UnrecoverableError{Err: err}
}

// IsUnrecoverable reports whether err must not be retried
func IsUnrecoverable(err error) bool {
	var u *UnrecoverableError
	return errors.As(err, &u) || errors.Is(err, ErrInvalidPayload)
}

// TimeoutError is returned when a stage exceeds its time budget
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stage timed out after %s", e.Timeout)
}

// classifyFailure maps a handler error to the failure recorded on the job
func classifyFailure(err error) queue.Failure {
	var timeoutErr *TimeoutError
	switch {
	case errors.As(err, &timeoutErr):
		return queue.Failure{Reason: err.Error(), Kind: queue.FailureTimeout}
	case IsUnrecoverable(err):
		return queue.Failure{Reason: err.Error(), Kind: queue.FailureUnrecoverable}
	default:
		return queue.Failure{Reason: err.Error(), Kind: queue.FailureError}
	}
}
