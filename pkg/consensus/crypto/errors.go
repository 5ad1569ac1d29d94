package crypto

import (
	"errors"
	"fmt"
)

// CryptoErrorType represents the category of cryptographic error.
type CryptoErrorType int

const (
	ErrorTypeSignature CryptoErrorType = iota
	ErrorTypeVerification
	ErrorTypeInvalidKey
	ErrorTypeUnknownSigner
)

var cryptoErrorTypeNames = [...]string{
	"signature",
	"verification",
	"invalid_key",
	"unknown_signer",
}

func (t CryptoErrorType) String() string {
	if t < 0 || int(t) >= len(cryptoErrorTypeNames) {
		return "unknown"
	}
	return cryptoErrorTypeNames[t]
}

// CryptoError represents an error that occurred during cryptographic operations.
type CryptoError struct {
	Type    CryptoErrorType
	Message string
	Cause   error
}

// NewCryptoError creates a new crypto error with the specified type and message.
func NewCryptoError(errorType CryptoErrorType, message string) *CryptoError {
	return &CryptoError{Type: errorType, Message: message}
}

// NewCryptoErrorWithCause creates a new crypto error with an underlying cause.
func NewCryptoErrorWithCause(errorType CryptoErrorType, message string, cause error) *CryptoError {
	return &CryptoError{Type: errorType, Message: message, Cause: cause}
}

func (e *CryptoError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("crypto error (%s): %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("crypto error (%s): %s", e.Type, e.Message)
}

func (e *CryptoError) Unwrap() error {
	return e.Cause
}

// Is matches any CryptoError of the same type, so errors.Is works against the
// sentinels below.
func (e *CryptoError) Is(target error) bool {
	t, ok := target.(*CryptoError)
	return ok && t.Type == e.Type
}

// Sentinel errors for use with errors.Is
var (
	ErrSignature     = &CryptoError{Type: ErrorTypeSignature, Message: "signature error"}
	ErrVerification  = &CryptoError{Type: ErrorTypeVerification, Message: "verification failed"}
	ErrInvalidKey    = &CryptoError{Type: ErrorTypeInvalidKey, Message: "invalid key"}
	ErrUnknownSigner = &CryptoError{Type: ErrorTypeUnknownSigner, Message: "unknown signer"}
)

// IsCryptoError checks if an error is, or wraps, a CryptoError of a specific type.
func IsCryptoError(err error, errorType CryptoErrorType) bool {
	var cryptoErr *CryptoError
	if errors.As(err, &cryptoErr) {
		return cryptoErr.Type == errorType
	}
	return false
}
