package domain

import (
	"errors"
	"fmt"
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

// DeliveryError represents a failed outbound API attempt.
// StatusCode is 0 for network-level failures; Code carries the OKX
// business code when the transport succeeded but the API rejected the call.
type DeliveryError struct {
	Op         string // operation that failed, e.g. "call", "marshal"
	StatusCode int
	Code       string
	Err        error
	Retriable  bool
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status=%d code=%s: %v", e.Op, e.StatusCode, e.Code, e.Err)
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *DeliveryError) IsRetriable() bool {
	return e.Retriable
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewRetriableDelivery creates a delivery error that should be retried
// under the backoff policy (429, 5xx, network failure, open breaker).
func NewRetriableDelivery(op string, statusCode int, err error) *DeliveryError {
	return &DeliveryError{Op: op, StatusCode: statusCode, Err: err, Retriable: true}
}

// NewTerminalDelivery creates a delivery error that retrying cannot fix
// (auth failure, malformed request, business rejection).
func NewTerminalDelivery(op string, statusCode int, err error) *DeliveryError {
	return &DeliveryError{Op: op, StatusCode: statusCode, Err: err, Retriable: false}
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
	// ErrQueueOverflow is returned when the forwarder's bounded queue is
	// full. It is a backpressure signal, never retried internally.
	ErrQueueOverflow = errors.New("delivery queue full")

	// ErrCircuitOpen is returned when the outbound circuit breaker is
	// rejecting calls. Retriable: the breaker closes after its cooldown.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrMissingCredentials is returned when the OKX credential set is
	// incomplete. Configuration-class, surfaced at startup.
	ErrMissingCredentials = errors.New("OKX API credentials not configured")
)
