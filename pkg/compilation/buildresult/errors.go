package buildresult

import "errors"

var (
	// ErrNotPersistable is returned when encoding a result kind that never goes to disk
	ErrNotPersistable = errors.New("build result kind cannot be persisted")

	// ErrUnknownKind is returned when a record carries an unknown kind
	ErrUnknownKind = errors.New("unknown build result kind")

	// ErrUnsupportedVersion is returned for records written by an incompatible format
	ErrUnsupportedVersion = errors.New("unsupported record version")

	// ErrInvalidRecord is returned when a record misses kind-specific attributes
	ErrInvalidRecord = errors.New("invalid build result record")
)
