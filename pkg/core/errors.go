package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error type carried across the voice session core.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrPermissionDenied ErrorType = "permission_denied"
	ErrDecode           ErrorType = "decode_error"
	ErrCredentialFetch  ErrorType = "credential_fetch_failed"
	ErrSessionOpen      ErrorType = "session_open_failed"
	ErrTransportClosed  ErrorType = "transport_closed"
	ErrUserAbort        ErrorType = "user_abort"
	ErrExtraction       ErrorType = "extraction_failed"
)

// NewPermissionDeniedError creates a device permission error.
func NewPermissionDeniedError(message string) *Error {
	return &Error{
		Type:    ErrPermissionDenied,
		Message: message,
	}
}

// NewDecodeError creates a frame decode error.
func NewDecodeError(message string) *Error {
	return &Error{
		Type:    ErrDecode,
		Message: message,
	}
}

// NewCredentialFetchError creates a credential fetch error.
func NewCredentialFetchError(message string) *Error {
	return &Error{
		Type:    ErrCredentialFetch,
		Message: message,
	}
}

// NewSessionOpenError creates a session establishment error.
func NewSessionOpenError(message string) *Error {
	return &Error{
		Type:    ErrSessionOpen,
		Message: message,
	}
}

// NewTransportClosedError creates a transport closure error.
func NewTransportClosedError(message string) *Error {
	return &Error{
		Type:    ErrTransportClosed,
		Message: message,
	}
}

// NewUserAbortError creates a user cancellation error.
func NewUserAbortError(message string) *Error {
	return &Error{
		Type:    ErrUserAbort,
		Message: message,
	}
}

// NewExtractionError creates a fact extraction error.
func NewExtractionError(message string) *Error {
	return &Error{
		Type:    ErrExtraction,
		Message: message,
	}
}

// IsRetryable returns true if the error may succeed on a later attempt.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrCredentialFetch, ErrSessionOpen, ErrTransportClosed, ErrExtraction:
		return true
	default:
		return false
	}
}

// TypeOf returns the ErrorType of err, or the empty string if err is not
// a core Error.
func TypeOf(err error) ErrorType {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ""
}
