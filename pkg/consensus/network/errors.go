package network

import (
	"errors"
	"fmt"
)

// NetworkErrorType represents the category of network error.
type NetworkErrorType int

const (
	ErrorTypeConnection NetworkErrorType = iota
	ErrorTypeTimeout
	ErrorTypeMessageDelivery
	ErrorTypeNodeNotFound
	ErrorTypeEncoding
	ErrorTypeClosed
)

var networkErrorTypeNames = [...]string{
	"connection",
	"timeout",
	"message_delivery",
	"node_not_found",
	"encoding",
	"closed",
}

func (t NetworkErrorType) String() string {
	if t < 0 || int(t) >= len(networkErrorTypeNames) {
		return "unknown"
	}
	return networkErrorTypeNames[t]
}

// NetworkError represents an error that occurred during network operations.
type NetworkError struct {
	Type    NetworkErrorType
	Message string
	Cause   error
}

// NewNetworkError creates a new network error with the specified type and message.
func NewNetworkError(errorType NetworkErrorType, message string) *NetworkError {
	return &NetworkError{Type: errorType, Message: message}
}

// NewNetworkErrorWithCause creates a new network error with an underlying cause.
func NewNetworkErrorWithCause(errorType NetworkErrorType, message string, cause error) *NetworkError {
	return &NetworkError{Type: errorType, Message: message, Cause: cause}
}

func (e *NetworkError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("network error (%s): %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("network error (%s): %s", e.Type, e.Message)
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

// Sentinel errors for use with errors.Is
var (
	ErrConnection      = &NetworkError{Type: ErrorTypeConnection, Message: "connection error"}
	ErrTimeout         = &NetworkError{Type: ErrorTypeTimeout, Message: "timeout error"}
	ErrMessageDelivery = &NetworkError{Type: ErrorTypeMessageDelivery, Message: "message delivery error"}
	ErrNodeNotFound    = &NetworkError{Type: ErrorTypeNodeNotFound, Message: "node not found"}
	ErrEncoding        = &NetworkError{Type: ErrorTypeEncoding, Message: "message encoding error"}
	ErrClosed          = &NetworkError{Type: ErrorTypeClosed, Message: "network closed"}
)

// Is matches any NetworkError of the same type.
func (e *NetworkError) Is(target error) bool {
	t, ok := target.(*NetworkError)
	return ok && t.Type == e.Type
}

// IsNetworkError checks if an error is, or wraps, a NetworkError of a specific type.
func IsNetworkError(err error, errorType NetworkErrorType) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Type == errorType
	}
	return false
}

// IsRetryable reports whether a failed send may succeed if repeated.
func IsRetryable(err error) bool {
	return !IsNetworkError(err, ErrorTypeEncoding) &&
		!IsNetworkError(err, ErrorTypeClosed) &&
		!IsNetworkError(err, ErrorTypeNodeNotFound)
}