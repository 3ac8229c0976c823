package assembly

import "errors"

var (
	// ErrAlreadyCompiled is returned when Compile is called twice on a builder
	ErrAlreadyCompiled = errors.New("assembly builder already compiled")

	// ErrNothingToCompile is returned when no unit contributed any input
	ErrNothingToCompile = errors.New("no sources or resources to compile")

	// ErrNoCompiler is returned when the builder has no compiler service
	ErrNoCompiler = errors.New("no compiler service configured")

	// ErrDuplicateUnit is returned when a unit is added twice
	ErrDuplicateUnit = errors.New("unit already added to builder")
)
