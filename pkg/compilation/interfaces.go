package compilation

import (
	"context"
	"io"
)

// UnitResolver turns a virtual path into a build unit
type UnitResolver interface {
	// Resolve returns ErrNotFound when the path is not a known unit kind,
	// or a *ParseError when the unit exists but cannot be prepared
	Resolve(ctx context.Context, vpath string) (*BuildUnit, error)
}

// Generator writes a unit's generated source into an assembly builder
type Generator interface {
	Generate(ctx context.Context, w SourceWriter) error
}

// GeneratorFunc adapts a function to the Generator interface
type GeneratorFunc func(ctx context.Context, w SourceWriter) error

// Generate implements Generator
func (f GeneratorFunc) Generate(ctx context.Context, w SourceWriter) error {
	return f(ctx, w)
}

// SourceWriter is handed to generators. Everything written through it is
// attributed to the unit being generated.
type SourceWriter interface {
	// CreateSource creates a new generated source file
	CreateSource(name string) (io.WriteCloser, error)
	// AddSourceFile adds an existing file to the compilation
	AddSourceFile(path string) error
	// AddResource embeds a resource file
	AddResource(path string) error
	// AddReference adds an assembly reference visible to this unit and later ones
	AddReference(assemblyPath string)
}

// CompilerService is the language compiler, treated as opaque and synchronous
type CompilerService interface {
	Compile(ctx context.Context, req *CompileRequest) (*CompileResponse, error)
}

// DirectoryEnumerator lists the contents of virtual directories
type DirectoryEnumerator interface {
	ListFiles(dir string) ([]string, error)
	ListSubdirectories(dir string) ([]string, error)
}

// PathMapper maps virtual paths to physical ones
type PathMapper interface {
	MapPath(vpath string) string
}
