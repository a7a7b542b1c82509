package service

import "errors"

// Sentinel kinds for service errors. The HTTP layer maps them to status codes.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrScoreNotComputed = errors.New("score not computed")
	ErrPersistence      = errors.New("persistence failure")
)

// ValidationError describes one rejected field. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
