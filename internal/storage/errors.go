package storage

import "errors"

// Storage errors for fact stores.
var (
	// ErrNotFound is returned when the fact table or source file does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a bulk insert carries a (date, cohort, segment)
	// key that already exists. Fact stores never update rows in place.
	ErrDuplicateKey = errors.New("duplicate key: fact store does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrReadOnly is returned by stores that cannot be written to.
	ErrReadOnly = errors.New("store is read-only")
)
