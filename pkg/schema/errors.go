package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeSchema            = "SCHEMA_ERROR"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeQueueFull         = "QUEUE_FULL"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInvocation        = "INVOCATION_ERROR"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStore             = "STORE_ERROR"
)

// ActionatorError is the structured error type shared by every layer.
type ActionatorError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ActionatorError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] field %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ActionatorError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ActionatorError.
func NewError(code, message string) *ActionatorError {
	return &ActionatorError{Code: code, Message: message}
}

// NewErrorf creates a new ActionatorError with a formatted message.
func NewErrorf(code, format string, args ...any) *ActionatorError {
	return &ActionatorError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithField names the payload field the error refers to.
func (e *ActionatorError) WithField(field string) *ActionatorError {
	e.Field = field
	return e
}

// WithCause attaches an underlying cause.
func (e *ActionatorError) WithCause(err error) *ActionatorError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ActionatorError) WithDetails(details map[string]any) *ActionatorError {
	e.Details = details
	return e
}

// IsCode reports whether err, or anything it wraps, is an ActionatorError
// carrying the given code.
func IsCode(err error, code string) bool {
	var aerr *ActionatorError
	if !errors.As(err, &aerr) {
		return false
	}
	return aerr.Code == code
}

// CodeOf returns the code of the first ActionatorError in err's chain, or "".
func CodeOf(err error) string {
	var aerr *ActionatorError
	if errors.As(err, &aerr) {
		return aerr.Code
	}
	return ""
}
