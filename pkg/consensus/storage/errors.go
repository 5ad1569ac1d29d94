package storage

import (
	"errors"
	"fmt"
)

// StorageErrorType represents the category of storage error.
type StorageErrorType int

const (
	ErrorTypeNotFound StorageErrorType = iota
	ErrorTypePersistence
	ErrorTypeRetrieval
	ErrorTypeCorruption
	ErrorTypeInvalidData
	ErrorTypeConflict
)

var storageErrorTypeNames = [...]string{
	"not_found",
	"persistence",
	"retrieval",
	"corruption",
	"invalid_data",
	"conflict",
}

func (t StorageErrorType) String() string {
	if t < 0 || int(t) >= len(storageErrorTypeNames) {
		return "unknown"
	}
	return storageErrorTypeNames[t]
}

// StorageError represents an error that occurred during storage operations.
type StorageError struct {
	Type    StorageErrorType
	Message string
	Cause   error
}

// NewStorageError creates a new storage error with the specified type and message.
func NewStorageError(errorType StorageErrorType, message string) *StorageError {
	return &StorageError{Type: errorType, Message: message}
}

// NewStorageErrorWithCause creates a new storage error with an underlying cause.
func NewStorageErrorWithCause(errorType StorageErrorType, message string, cause error) *StorageError {
	return &StorageError{Type: errorType, Message: message, Cause: cause}
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage error (%s): %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("storage error (%s): %s", e.Type, e.Message)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is matches any StorageError of the same type.
func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	return ok && t.Type == e.Type
}

// Sentinel errors for use with errors.Is
var (
	ErrNotFound    = &StorageError{Type: ErrorTypeNotFound, Message: "not found"}
	ErrPersistence = &StorageError{Type: ErrorTypePersistence, Message: "persistence error"}
	ErrRetrieval   = &StorageError{Type: ErrorTypeRetrieval, Message: "retrieval error"}
	ErrCorruption  = &StorageError{Type: ErrorTypeCorruption, Message: "data corruption"}
	ErrInvalidData = &StorageError{Type: ErrorTypeInvalidData, Message: "invalid data"}
	// ErrConflict means a different block already occupies the height.
	ErrConflict = &StorageError{Type: ErrorTypeConflict, Message: "conflicting block at height"}
)

// IsStorageError checks if an error is, or wraps, a StorageError of a specific type.
func IsStorageError(err error, errorType StorageErrorType) bool {
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.Type == errorType
	}
	return false
}

// IsRetryable reports whether an operation failing with err may succeed if
// repeated. Conflicts and corrupt data never heal on retry.
func IsRetryable(err error) bool {
	return !IsStorageError(err, ErrorTypeConflict) &&
		!IsStorageError(err, ErrorTypeCorruption) &&
		!IsStorageError(err, ErrorTypeInvalidData)
}