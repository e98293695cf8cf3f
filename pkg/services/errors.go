package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a scan is not found
	ErrNotFound = errors.New("scan not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate scan
	ErrAlreadyExists = errors.New("scan already exists")

	// ErrNotCancellable is returned when cancelling a scan that is already terminal
	ErrNotCancellable = errors.New("scan is not cancellable")

	// ErrAtCapacity is returned when the concurrent scan limit is reached
	ErrAtCapacity = errors.New("concurrent scan limit reached")

	// ErrEngineUnavailable is returned when the scan engine is not installed or unreachable
	ErrEngineUnavailable = errors.New("scan engine unavailable")

	// ErrUpstream is returned when the runner service returns an unexpected error
	ErrUpstream = errors.New("runner service error")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
