package assembly

import (
	"time"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/sirupsen/logrus"
)

// LockedOutputCode is the compiler diagnostic reported when the output file
// cannot be written because it is still loaded
const LockedOutputCode = "CS0016"

// SatelliteSuffix is appended to the name of culture-specific resource assemblies
const SatelliteSuffix = ".resources"

// Options configures an assembly builder
type Options struct {
	Language string
	Culture  string

	// CodegenDir receives the output assembly and generated sources
	CodegenDir string

	// OutputName is the assembly name without extension
	OutputName string

	// BaseAssembly names the main assembly of a satellite build; both are
	// marked for deletion when the satellite output is locked
	BaseAssembly string

	// InitialReferences are assembly paths every unit compiles against
	InitialReferences []string

	MaxFiles int
	MaxBytes int64

	CompilerOptions compilation.CompilerOptions
	Compiler        compilation.CompilerService

	// KeepGeneratedFiles leaves generated sources on disk after compiling
	KeepGeneratedFiles bool

	Logger *logrus.Logger
}

// Outcome is the result of one builder compilation
type Outcome struct {
	// Assembly is set when compilation succeeded
	Assembly compilation.Assembly

	// Units in the order they were added
	Units []*compilation.BuildUnit

	// References are the merged assembly paths passed to the compiler
	References []string

	Diagnostics []compilation.Diagnostic

	// UnitErrors holds the errors attributed to each failed unit
	UnitErrors map[compilation.Handle]*compilation.CompileError

	// Unattributed holds error diagnostics no unit could be matched to
	Unattributed []compilation.Diagnostic

	ExitCode int
	Duration time.Duration
}

// Succeeded reports whether an assembly was produced
func (o *Outcome) Succeeded() bool {
	return !o.Assembly.IsZero()
}

// ReferenceNames returns the short names of the merged references
func (o *Outcome) ReferenceNames() []string {
	names := make([]string, 0, len(o.References))
	for _, ref := range o.References {
		names = append(names, AssemblyNameFromPath(ref))
	}
	return names
}

// ErrorFor returns the error attributed to the unit, if any
func (o *Outcome) ErrorFor(h compilation.Handle) (*compilation.CompileError, bool) {
	err, ok := o.UnitErrors[h]
	return err, ok
}
