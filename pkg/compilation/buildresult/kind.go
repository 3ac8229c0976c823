package buildresult

import "fmt"

// Kind discriminates the build result variants
type Kind int

const (
	KindCompiledAssembly Kind = iota + 1
	KindCompiledType
	KindCompileError
	KindCustomString
	KindCodeCompileUnit
	KindNoCompile
)

var kindNames = map[Kind]string{
	KindCompiledAssembly: "compiled-assembly",
	KindCompiledType:     "compiled-type",
	KindCompileError:     "compile-error",
	KindCustomString:     "custom-string",
	KindCodeCompileUnit:  "code-compile-unit",
	KindNoCompile:        "no-compile",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind converts a kind name back to a Kind
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Flags are cache policy bits carried by a result
type Flags uint32

const (
	// FlagNoDiskCache keeps the result out of durable tiers
	FlagNoDiskCache Flags = 1 << iota
	// FlagNoMemoryCache keeps the result out of the memory tier
	FlagNoMemoryCache
	// FlagUnloadable marks results whose assembly may be dropped with the entry
	FlagUnloadable
	// FlagShutdownOnChange requests a recycle when a dependency changes
	FlagShutdownOnChange
	// FlagWatched marks results backed by an active file watch; they are
	// trusted without fingerprint recomputation
	FlagWatched
	// FlagDelayLoad marks a placeholder whose assembly is loaded on demand
	FlagDelayLoad
	// FlagPrecompiled marks results served from a precompiled site
	FlagPrecompiled
)

// persistentFlags survive a round trip through a durable record
const persistentFlags = FlagNoMemoryCache | FlagUnloadable | FlagShutdownOnChange

// Has reports whether all bits of f are set
func (fl Flags) Has(f Flags) bool {
	return fl&f == f
}

// Any reports whether any bit of f is set
func (fl Flags) Any(f Flags) bool {
	return fl&f != 0
}
