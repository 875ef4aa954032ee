// Package errors provides structured error handling with typed error codes.
//
// Error codes are organized into categories:
//   - General errors (1-99): Unknown and general errors
//   - Validation errors (100-199): Invalid parameters, configuration and order shapes
//   - Data/Resource errors (200-299): Missing orders/deals, store query failures
//   - Network errors (300-399): Timeouts and connection failures (retryable)
//   - Exchange errors (400-499): Rejections, rate limits, balance shortfalls
//   - Risk errors (500-599): Risk limit breaches and forced protective action
//   - State errors (600-699): Snapshot corruption, reconciliation and breaker state
//
// Usage:
//
//	// Create a new error
//	err := errors.New(errors.ErrCodeExchangeReject, "symbol not tradable")
//
//	// Create a formatted error
//	err := errors.Newf(errors.ErrCodeOrderNotFound, "order not found: %s", id)
//
//	// Wrap an existing error
//	err := errors.Wrap(errors.ErrCodeNetworkTimeout, "gateway call timed out", cause)
//
//	// Check error code
//	if errors.HasCode(err, errors.ErrCodeRateLimit) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Error represents a structured error with an error code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   nil,
	}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   nil,
	}
}

// Wrap wraps an existing error with a new Error containing the given code and message.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an existing error with a new Error containing the given code and formatted message.
func Wrapf(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around the standard errors.Is function.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around the standard errors.As function.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetCode extracts the ErrorCode from an error if it's an *Error type.
// Returns ErrCodeUnknown if the error is not an *Error type.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ErrCodeUnknown
}

// HasCode checks if an error has a specific ErrorCode.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// IsRetryable reports whether the error class is safe to retry.
// Network failures and exchange rate limits are retryable; rejections,
// balance shortfalls and risk breaches are not.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case ErrCodeNetworkTimeout, ErrCodeConnectionFailed, ErrCodeRateLimit:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the error class must never be retried.
// Ambiguous errors (unknown exchange state) are neither retryable nor
// terminal and are left to reconciliation.
func IsTerminal(err error) bool {
	switch GetCode(err) {
	case ErrCodeExchangeReject, ErrCodeInsufficientBalance, ErrCodeInvalidParameter, ErrCodeInvalidOrder:
		return true
	default:
		return false
	}
}
