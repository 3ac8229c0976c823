package cache

import "errors"

var (
	// ErrCacheMiss is returned when a cache key is not found
	ErrCacheMiss = errors.New("cache miss")

	// ErrNotCacheable is returned when a tier's policy rejects a result
	ErrNotCacheable = errors.New("result not cacheable in this tier")

	// ErrReadOnly is returned when writing to a read-only tier
	ErrReadOnly = errors.New("cache tier is read-only")

	// ErrInvalidCacheKey is returned when a cache key is invalid
	ErrInvalidCacheKey = errors.New("invalid cache key")

	// ErrCacheUnavailable is returned when a remote tier cannot be reached
	ErrCacheUnavailable = errors.New("cache unavailable")
)
