package realtime

import (
	"errors"
	"fmt"
)

// Sentinel errors for the realtime package.
var (
	// ErrNotConnected indicates there is no open session.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrClosed indicates the engine has been closed.
	ErrClosed = errors.New("realtime: engine closed")

	// ErrCredentials indicates no credential could be resolved.
	ErrCredentials = errors.New("realtime: credential resolution failed")

	// ErrDevice indicates a local media device could not be acquired.
	ErrDevice = errors.New("realtime: media device unavailable")

	// ErrRetriesExhausted indicates the reconnection budget ran out.
	ErrRetriesExhausted = errors.New("realtime: reconnection failed")
)

// ConnectionError describes why a connection attempt or session ended.
type ConnectionError struct {
	// Reason describes what failed.
	Reason string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates the reconnection state machine should try again.
	Retryable bool
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("realtime: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("realtime: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates a ConnectionError.
func NewConnectionError(reason string, cause error, retryable bool) *ConnectionError {
	return &ConnectionError{Reason: reason, Cause: cause, Retryable: retryable}
}

// IsRetryable reports whether err should trigger a reconnect.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Retryable
	}
	return false
}

// IsFatal reports whether err is a broken prerequisite that must not be
// retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrCredentials) || errors.Is(err, ErrDevice) || errors.Is(err, ErrRetriesExhausted)
}
