package compilation

import (
	"fmt"
	"time"
)

// Handle identifies a build unit within one compilation scope. Handles are
// assigned by an Arena and all per-unit bookkeeping is keyed by them.
type Handle int

// NoHandle is the zero handle, never assigned by an Arena.
const NoHandle Handle = 0

// UnitKind classifies build units
type UnitKind int

const (
	KindOther UnitKind = iota
	KindPage
	KindControl
	KindCode
	KindResource
	KindGlobal
)

func (k UnitKind) String() string {
	switch k {
	case KindPage:
		return "page"
	case KindControl:
		return "control"
	case KindCode:
		return "code"
	case KindResource:
		return "resource"
	case KindGlobal:
		return "global"
	default:
		return "other"
	}
}

// OutputKind describes what result a unit produces once compiled
type OutputKind int

const (
	// OutputAssembly produces a result wrapping the compiled assembly
	OutputAssembly OutputKind = iota
	// OutputType produces a result wrapping a type inside the assembly
	OutputType
	// OutputCustomString produces a result carrying a string computed by the unit
	OutputCustomString
	// OutputCodeUnit produces the serialized intermediate tree without compiling
	OutputCodeUnit
	// OutputNoCompile marks units interpreted at runtime
	OutputNoCompile
)

// BuildUnit is one named compilable item (page, control, code file, resource)
type BuildUnit struct {
	// Identity
	VirtualPath string
	Handle      Handle
	Kind        UnitKind

	// Compiler requirements, empty Language means language-free
	Language string
	Culture  string

	// DependsOn lists virtual paths of other units whose output this unit needs
	DependsOn []string

	// FileDependencies lists virtual paths hashed into the result fingerprint.
	// The unit's own path is always included.
	FileDependencies []string

	// TypeNames are the type names the generated source declares
	TypeNames []string

	// Output selects the result variant
	Output       OutputKind
	TypeName     string // primary type for OutputType
	CustomString string
	CodeUnit     []byte

	// PassThrough marks plain source or resource files that only need
	// compiling when another unit requires them
	PassThrough bool

	// SizeHint estimates the generated size in bytes
	SizeHint int64

	Generator Generator
}

// Dependencies returns the fingerprint dependency set, always including the unit itself
func (u *BuildUnit) Dependencies() []string {
	deps := make([]string, 0, len(u.FileDependencies)+1)
	seen := make(map[string]bool, len(u.FileDependencies)+1)
	for _, d := range append([]string{u.VirtualPath}, u.FileDependencies...) {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		deps = append(deps, d)
	}
	return deps
}

// String implements fmt.Stringer
func (u *BuildUnit) String() string {
	return fmt.Sprintf("%s(%s#%d)", u.Kind, u.VirtualPath, u.Handle)
}

// Assembly references a compiled assembly on disk
type Assembly struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"path"`
	// Global is set for assemblies outside the codegen directory; their
	// records store the full path instead of the short name
	Global bool `json:"global,omitempty" yaml:"global,omitempty"`
}

// IsZero reports whether the assembly reference is unset
func (a Assembly) IsZero() bool {
	return a.Name == "" && a.Path == ""
}

// Severity of a compiler diagnostic
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is one compiler message
type Diagnostic struct {
	File     string   `json:"file"`
	Line     int      `json:"line"`
	Column   int      `json:"column,omitempty"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code,omitempty"`
	Message  string   `json:"message"`

	// VirtualPath is filled in when the diagnostic could be attributed to a unit
	VirtualPath string `json:"virtual_path,omitempty"`
}

// String formats the diagnostic the way compilers print them
func (d Diagnostic) String() string {
	loc := d.File
	if d.VirtualPath != "" {
		loc = d.VirtualPath
	}
	if d.Line > 0 {
		loc = fmt.Sprintf("%s(%d)", loc, d.Line)
	}
	if d.Code != "" {
		return fmt.Sprintf("%s: %s %s: %s", loc, d.Severity, d.Code, d.Message)
	}
	return fmt.Sprintf("%s: %s: %s", loc, d.Severity, d.Message)
}

// CompilerOptions are passed through to the compiler service
type CompilerOptions struct {
	Debug        bool
	WarningLevel int
	Flags        []string
}

// CompileRequest is one compiler invocation
type CompileRequest struct {
	Language    string
	Culture     string
	SourceFiles []string
	Resources   []string
	References  []string
	OutputPath  string
	Options     CompilerOptions
}

// CompileResponse is the outcome of a compiler invocation. AssemblyPath is
// empty when compilation failed.
type CompileResponse struct {
	AssemblyPath string
	Diagnostics  []Diagnostic
	ExitCode     int
	Duration     time.Duration
}

// Failed reports whether the compiler produced no assembly
func (r *CompileResponse) Failed() bool {
	return r.AssemblyPath == "" || r.ExitCode != 0
}

// Errors returns only the error diagnostics
func (r *CompileResponse) Errors() []Diagnostic {
	var errs []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Arena hands out handles for units resolved in one scope
type Arena struct {
	next  Handle
	units map[Handle]*BuildUnit
	paths map[string]Handle
}

// NewArena creates an empty arena
func NewArena() *Arena {
	return &Arena{
		units: make(map[Handle]*BuildUnit),
		paths: make(map[string]Handle),
	}
}

// Add assigns a handle to the unit. Adding the same virtual path twice
// returns the existing handle.
func (a *Arena) Add(u *BuildUnit) Handle {
	if h, ok := a.paths[u.VirtualPath]; ok {
		return h
	}
	a.next++
	u.Handle = a.next
	a.units[u.Handle] = u
	a.paths[u.VirtualPath] = u.Handle
	return u.Handle
}

// Get returns the unit for a handle
func (a *Arena) Get(h Handle) (*BuildUnit, bool) {
	u, ok := a.units[h]
	return u, ok
}

// Lookup returns the handle for a virtual path
func (a *Arena) Lookup(vpath string) (Handle, bool) {
	h, ok := a.paths[vpath]
	return h, ok
}

// Len returns the number of units
func (a *Arena) Len() int {
	return len(a.units)
}
