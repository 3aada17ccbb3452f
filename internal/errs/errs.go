// Package errs defines the error taxonomy shared by the billing engine packages.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState matches every InvalidStateError via errors.Is.
	ErrInvalidState = errors.New("invalid state")
)

// ValidationError reports malformed input such as a negative quantity or an
// out-of-range percentage.
type ValidationError struct {
	Field  string
	Reason string
}

// Validation constructs a ValidationError for the given field.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// InvalidStateError reports a computation that would violate a model invariant,
// for example a negative grand total.
type InvalidStateError struct {
	Reason string
}

// InvalidState constructs an InvalidStateError.
func InvalidState(format string, args ...any) *InvalidStateError {
	return &InvalidStateError{Reason: fmt.Sprintf(format, args...)}
}

func (e *InvalidStateError) Error() string {
	if e == nil {
		return ""
	}
	return "invalid state: " + e.Reason
}

// Is reports whether target is ErrInvalidState.
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// Prefix returns a copy of err with its field path nested under parent. Errors
// other than ValidationError are returned untouched.
func Prefix(parent string, err error) error {
	var verr *ValidationError
	if parent == "" || !errors.As(err, &verr) {
		return err
	}
	field := parent
	if verr.Field != "" {
		field = parent + "." + verr.Field
	}
	return &ValidationError{Field: field, Reason: verr.Reason}
}
