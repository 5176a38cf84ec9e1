package memory

import "errors"

var (
	// ErrNotFound is returned when a requested entity is absent or
	// filtered out by lineage state.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when input violates a schema constraint.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned on duplicate keys or lineage violations.
	ErrConflict = errors.New("conflict")

	// ErrInternal wraps programming errors and database corruption.
	ErrInternal = errors.New("internal error")
)
