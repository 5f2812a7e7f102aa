package storage

import "errors"

// Storage errors shared by all repository implementations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyDisabled is returned when disabling a Set that is not active.
	ErrAlreadyDisabled = errors.New("set already disabled")
)
