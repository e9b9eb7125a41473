package storage

import "errors"

// Errors shared by the trade and candle store implementations.
var (
	// ErrNotFound is returned when no rows match a lookup, such as the
	// latest-timestamp probe for a token with no stored trades.
	ErrNotFound = errors.New("storage: not found")

	// ErrDuplicateKey is returned when an insert collides with a unique
	// constraint other than the (source, provenance_id) dedup key, which
	// appends skip silently.
	ErrDuplicateKey = errors.New("storage: duplicate key")

	// ErrInvalidInput is returned for records missing required identity
	// fields, like a trade without a source or provenance ID.
	ErrInvalidInput = errors.New("storage: invalid input")
)
