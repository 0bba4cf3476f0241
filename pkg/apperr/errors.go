// Package apperr defines the error taxonomy shared by the core packages.
// Callers match with errors.Is against the sentinels; packages wrap them
// with operation context via fmt.Errorf and %w.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed characteristic spec or value.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing material, characteristic or snapshot.
	ErrNotFound = errors.New("not found")
	// ErrInUse marks a delete blocked by live references.
	ErrInUse = errors.New("resource in use")
	// ErrConsistency marks an internal invariant violation, such as a
	// characteristic order entry without a matching value row. It is always
	// logged where it is detected.
	ErrConsistency = errors.New("consistency violation")
)

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// InUsef wraps ErrInUse with a formatted message.
func InUsef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInUse}, args...)...)
}

// Consistencyf wraps ErrConsistency with a formatted message.
func Consistencyf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConsistency}, args...)...)
}
