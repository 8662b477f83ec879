package errors

import (
	stderrors "errors"
	"fmt"
)

// Error codes returned by the service layer. The HTTP layer maps these to
// status codes; callers decide user-facing messaging.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeConflict          = "CONFLICT"
	CodeUnavailable       = "UNAVAILABLE"
	CodeInternal          = "INTERNAL"
)

// Error is a coded service error, optionally wrapping a cause.
type Error struct {
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message, preserving the cause chain.
func Wrap(err error, code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing record of the given kind.
func NotFound(kind, id string) *Error {
	return Newf(CodeNotFound, "%s %q not found", kind, id)
}

// InvalidInput reports a validation failure on a named field.
func InvalidInput(field, reason string) *Error {
	return Newf(CodeValidationFailed, "%s: %s", field, reason)
}

// InvalidTransition reports an action that is not legal from the current state.
func InvalidTransition(format string, args ...any) *Error {
	return Newf(CodeInvalidTransition, format, args...)
}

// Code extracts the error code, or CodeInternal for uncoded errors.
func Code(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return err != nil && Code(err) == code
}
