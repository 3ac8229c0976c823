package fingerprint

import (
	"io/fs"
	"time"

	"github.com/platinummonkey/webcompile/pkg/compilation"
)

// FileState is the metadata of one dependency
type FileState struct {
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Source gives read access to dependency files by virtual path. Missing
// files must be reported with an error matching fs.ErrNotExist.
type Source interface {
	Stat(vpath string) (FileState, error)
	ReadFile(vpath string) ([]byte, error)
}

// FSSource serves virtual paths from an fs.FS rooted at the application root
type FSSource struct {
	FS fs.FS
}

// NewFSSource creates a source over fsys
func NewFSSource(fsys fs.FS) *FSSource {
	return &FSSource{FS: fsys}
}

// Stat implements Source
func (s *FSSource) Stat(vpath string) (FileState, error) {
	info, err := fs.Stat(s.FS, fsPath(vpath))
	if err != nil {
		return FileState{}, err
	}
	return FileState{
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

// ReadFile implements Source
func (s *FSSource) ReadFile(vpath string) ([]byte, error) {
	return fs.ReadFile(s.FS, fsPath(vpath))
}

// fsPath converts a virtual path to an fs.FS path
func fsPath(vpath string) string {
	rel := compilation.Relative(vpath)
	if rel == "" {
		return "."
	}
	return rel
}
