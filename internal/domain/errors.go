package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "dial", "read", "fetch")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// APIError is a non-2xx answer from the snapshot source.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status=%d body=%s", e.Op, e.StatusCode, e.Body)
}

// IsRetriable is true for throttling and server-side failures.
func (e *APIError) IsRetriable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrNotConnected is returned when the stream has no open connection.
	ErrNotConnected = errors.New("not connected")

	// ErrInvalidOrder is returned when an order spec breaks an invariant. Not retriable.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrOrderNotFound is returned when an order id is not tracked.
	ErrOrderNotFound = errors.New("order not found")

	// ErrPositionNotFound is returned when no position is held for a symbol.
	ErrPositionNotFound = errors.New("position not found")

	// ErrNoActiveSymbol is returned when a command needs a selected symbol.
	ErrNoActiveSymbol = errors.New("no active symbol")

	// ErrLoopStopped is returned when a task is posted after the engine stopped.
	ErrLoopStopped = errors.New("engine loop stopped")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
