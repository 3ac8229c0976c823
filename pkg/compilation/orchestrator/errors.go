package orchestrator

import "errors"

var (
	// ErrNotPrecompiled is returned when a precompiled application misses a unit
	ErrNotPrecompiled = errors.New("unit was not precompiled")

	// ErrMixedLanguages is returned for a code directory containing several languages
	ErrMixedLanguages = errors.New("code directory mixes languages")

	// ErrNoTarget is returned when precompilation has no target directory
	ErrNoTarget = errors.New("precompilation target not set")

	// ErrNoTargetTier is returned when no writable cache tier is rooted at
	// the precompilation target
	ErrNoTargetTier = errors.New("no cache tier writes to the precompilation target")

	// ErrMissingDependency is returned when a required collaborator is nil
	ErrMissingDependency = errors.New("missing build manager dependency")
)
