package assembly

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/platinummonkey/webcompile/pkg/compilation"
)

// unitWriter collects the inputs one unit contributes. Nothing reaches the
// builder until the unit's generator succeeds.
type unitWriter struct {
	b    *Builder
	unit *compilation.BuildUnit

	generated []string // files created by this writer, removed on rollback
	sources   []string
	resources []string
	refs      []string
	size      int64
}

// CreateSource implements compilation.SourceWriter
func (w *unitWriter) CreateSource(name string) (io.WriteCloser, error) {
	if err := os.MkdirAll(w.b.sourceDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create source directory: %w", err)
	}

	path := filepath.Join(w.b.sourceDir, w.b.sourceFileName(w.unit.Handle, name))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create source %s: %w", name, err)
	}

	w.generated = append(w.generated, path)
	w.sources = append(w.sources, path)
	return &countingWriter{f: f, n: &w.size}, nil
}

// AddSourceFile implements compilation.SourceWriter
func (w *unitWriter) AddSourceFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("source file %s: %w", path, err)
	}
	w.sources = append(w.sources, path)
	w.size += info.Size()
	return nil
}

// AddResource implements compilation.SourceWriter
func (w *unitWriter) AddResource(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("resource %s: %w", path, err)
	}
	w.resources = append(w.resources, path)
	return nil
}

// AddReference implements compilation.SourceWriter
func (w *unitWriter) AddReference(assemblyPath string) {
	if assemblyPath != "" {
		w.refs = append(w.refs, assemblyPath)
	}
}

func (w *unitWriter) rollback() {
	for _, path := range w.generated {
		os.Remove(path)
	}
}

// countingWriter tracks the generated size of a unit
type countingWriter struct {
	f *os.File
	n *int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.f.Write(p)
	*c.n += int64(n)
	return n, err
}

func (c *countingWriter) Close() error {
	return c.f.Close()
}

// sourceFileName makes generated file names unique per unit so diagnostics
// can be traced back through the source map
func (b *Builder) sourceFileName(h compilation.Handle, name string) string {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "source"
	}
	base = strings.ReplaceAll(base, " ", "_")
	b.fileSeq++
	return fmt.Sprintf("u%d_%d_%s", h, b.fileSeq, base)
}
