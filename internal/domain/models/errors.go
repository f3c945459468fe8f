package models

import (
	"errors"
	"fmt"
)

// ValidationError reports bad input. It is returned before any work is done.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CalculationError reports a failure computing a derived value for one body.
type CalculationError struct {
	Op   string
	Body Body
	Err  error
}

func (e *CalculationError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("calculation %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("calculation %s[%s]: %v", e.Op, e.Body, e.Err)
}

func (e *CalculationError) Unwrap() error { return e.Err }
