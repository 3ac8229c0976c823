package host

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/config"
	"github.com/platinummonkey/webcompile/pkg/compilation/fingerprint"
)

// Site exposes a physical site root through virtual paths. It implements
// compilation.DirectoryEnumerator, compilation.PathMapper and
// fingerprint.Source.
type Site struct {
	*fingerprint.FSSource
	root string
}

// NewSite creates a site rooted at dir
func NewSite(dir string) (*Site, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve site root %s: %w", dir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open site root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, root)
	}
	return &Site{
		FSSource: fingerprint.NewFSSource(os.DirFS(root)),
		root:     root,
	}, nil
}

// Root returns the physical site root
func (s *Site) Root() string {
	return s.root
}

// MapPath implements compilation.PathMapper
func (s *Site) MapPath(vpath string) string {
	return filepath.Join(s.root, filepath.FromSlash(compilation.Relative(vpath)))
}

// ListFiles implements compilation.DirectoryEnumerator. Delete markers and
// the files they mark are not listed.
func (s *Site) ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(s.MapPath(dir))
	if err != nil {
		return nil, err
	}

	marked := make(map[string]bool)
	for _, e := range entries {
		if name := e.Name(); strings.HasSuffix(name, config.DeleteMarkerExtension) {
			marked[strings.TrimSuffix(name, config.DeleteMarkerExtension)] = true
		}
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || marked[name] || strings.HasSuffix(name, config.DeleteMarkerExtension) {
			continue
		}
		files = append(files, compilation.Join(dir, name))
	}
	return files, nil
}

// ListSubdirectories implements compilation.DirectoryEnumerator
func (s *Site) ListSubdirectories(dir string) ([]string, error) {
	entries, err := os.ReadDir(s.MapPath(dir))
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, compilation.Join(dir, e.Name()))
		}
	}
	return dirs, nil
}

// IsPrecompiled reports whether the site root carries the precompiled
// application marker
func (s *Site) IsPrecompiled() bool {
	_, err := os.Stat(filepath.Join(s.root, config.PrecompiledMarkerFile))
	return err == nil
}
