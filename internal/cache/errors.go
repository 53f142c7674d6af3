package cache

import "errors"

var (
	// ErrEntryTooLarge means a single entry's size exceeds the whole capacity.
	// Callers should treat the response as not cacheable.
	ErrEntryTooLarge = errors.New("entry larger than cache capacity")

	// ErrInvalidSize is returned for negative entry sizes.
	ErrInvalidSize = errors.New("invalid entry size")

	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("invalid cache key")

	// ErrInvalidCapacity is returned when a cache is built with capacity <= 0.
	ErrInvalidCapacity = errors.New("invalid cache capacity")
)
