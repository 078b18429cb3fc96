// Package errors provides the error taxonomy shared by every storage
// component. Each error carries a code, a message, an optional cause and a
// retryable flag, so callers can branch with errors.Is regardless of which
// provider produced the failure.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies an error.
type Code string

const (
	CodeConfigNotFound             Code = "CONFIG_NOT_FOUND"
	CodeUnsupportedProviderKind    Code = "UNSUPPORTED_PROVIDER_KIND"
	CodeConnectionValidationFailed Code = "CONNECTION_VALIDATION_FAILED"
	CodeSwitchPersistenceFailed    Code = "SWITCH_PERSISTENCE_FAILED"
	CodePoolExhausted              Code = "POOL_EXHAUSTED"
	CodePoolClosed                 Code = "POOL_CLOSED"
	CodeConnectionError            Code = "CONNECTION_ERROR"
	CodeTransferFailure            Code = "TRANSFER_FAILURE"
	CodeMetadataError              Code = "METADATA_ERROR"
	CodeNotFound                   Code = "NOT_FOUND"
	CodeNoBackendConfigured        Code = "NO_BACKEND_CONFIGURED"
	CodeAlreadyExists              Code = "ALREADY_EXISTS"
	CodeConfigInUse                Code = "CONFIG_IN_USE"
	CodeInvalidArgument            Code = "INVALID_ARGUMENT"
)

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrConfigNotFound             = New(CodeConfigNotFound, "backend configuration not found")
	ErrUnsupportedProviderKind    = New(CodeUnsupportedProviderKind, "unsupported provider kind")
	ErrConnectionValidationFailed = New(CodeConnectionValidationFailed, "connection validation failed")
	ErrSwitchPersistenceFailed    = New(CodeSwitchPersistenceFailed, "failed to persist active backend")
	ErrPoolExhausted              = New(CodePoolExhausted, "client pool exhausted")
	ErrPoolClosed                 = New(CodePoolClosed, "client pool closed")
	ErrConnectionError            = New(CodeConnectionError, "failed to connect to backend")
	ErrTransferFailure            = New(CodeTransferFailure, "transfer failed")
	ErrMetadataError              = New(CodeMetadataError, "metadata operation failed")
	ErrNotFound                   = New(CodeNotFound, "not found")
	ErrNoBackendConfigured        = New(CodeNoBackendConfigured, "no active backend configured")
	ErrAlreadyExists              = New(CodeAlreadyExists, "already exists")
	ErrConfigInUse                = New(CodeConfigInUse, "backend configuration is in use")
	ErrInvalidArgument            = New(CodeInvalidArgument, "invalid argument")
)

// Error is the structured error type used throughout gostore.
type Error struct {
	Code      Code
	Message   string
	Details   map[string]any
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target carries the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: isRetryable(code),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(code),
	}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(cause error, code Code, format string, args ...any) *Error {
	return Wrap(code, fmt.Sprintf(format, args...), cause)
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetCode extracts the code from an error chain.
// Returns an empty code if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether any error in the chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

func isRetryable(code Code) bool {
	switch code {
	case CodePoolExhausted, CodeConnectionError, CodeTransferFailure:
		return true
	default:
		return false
	}
}
