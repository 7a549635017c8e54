// Package errors provides the coded error taxonomy shared by the session
// engine, the store and the HTTP surface.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an error outside the taxonomy.
	CodeUnknown Code = "UNKNOWN"

	// CodeInvalidState means the operation is not legal in the session's
	// current lifecycle state.
	CodeInvalidState Code = "INVALID_STATE"

	// CodeValidation means the input was malformed. Nothing was committed.
	CodeValidation Code = "VALIDATION_ERROR"

	// CodeUpstream means the external generation capability failed or timed out.
	CodeUpstream Code = "UPSTREAM_ERROR"

	// CodeNotFound means the session id is unknown.
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps the code to the status used by the HTTP API.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidState:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUpstream:
		return http.StatusBadGateway
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Human-readable message, surfaced verbatim
	Metadata map[string]string // Additional context (session id, state, ...)
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithMetadata creates a domain error carrying metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidState = New(CodeInvalidState, "invalid state")
	ErrValidation   = New(CodeValidation, "validation error")
	ErrUpstream     = New(CodeUpstream, "upstream error")
	ErrNotFound     = New(CodeNotFound, "not found")
)
