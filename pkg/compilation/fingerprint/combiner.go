package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/platinummonkey/webcompile/pkg/compilation"
)

// Combiner accumulates heterogeneous inputs into one hash. It is used for the
// top-level special files hash where configuration values, single files and
// whole directory trees all contribute.
type Combiner struct {
	h     hash.Hash
	count int
}

// NewCombiner creates an empty combiner
func NewCombiner() *Combiner {
	return &Combiner{h: sha256.New()}
}

// AddString adds a value as one length-prefixed field
func (c *Combiner) AddString(s string) {
	writeField(c.h, []byte(s))
	c.count++
}

// AddInt adds an integer value
func (c *Combiner) AddInt(v int64) {
	c.AddString(strconv.FormatInt(v, 10))
}

// AddFile adds a file's timestamp and size. Missing files contribute a
// marker so that creating them later changes the hash.
func (c *Combiner) AddFile(src Source, vpath string) {
	c.AddString(strings.ToLower(vpath))
	state, err := src.Stat(vpath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.AddString("missing")
		} else {
			c.AddString("unreadable")
		}
		return
	}
	c.AddInt(state.Size)
	c.AddInt(state.ModTime.UTC().UnixNano())
}

// AddDirectory adds every file below vdir, recursively, in sorted order
func (c *Combiner) AddDirectory(src Source, dirs compilation.DirectoryEnumerator, vdir string) error {
	c.AddString("dir:" + strings.ToLower(vdir))

	files, err := dirs.ListFiles(vdir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.AddString("missing")
			return nil
		}
		return fmt.Errorf("failed to list %s: %w", vdir, err)
	}
	sort.Strings(files)
	for _, f := range files {
		c.AddFile(src, f)
	}

	subdirs, err := dirs.ListSubdirectories(vdir)
	if err != nil {
		return fmt.Errorf("failed to list subdirectories of %s: %w", vdir, err)
	}
	sort.Strings(subdirs)
	for _, sub := range subdirs {
		if err := c.AddDirectory(src, dirs, sub); err != nil {
			return err
		}
	}
	return nil
}

// Sum returns the combined hash
func (c *Combiner) Sum() string {
	sum := c.h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// Count returns how many values were added
func (c *Combiner) Count() int {
	return c.count
}

// SpecialFilesHash is the two component hash of top-level special inputs.
// PreStart covers inputs known before the application starts (configuration,
// code directories); PostStart covers inputs only known afterwards (global
// application file, referenced assemblies).
type SpecialFilesHash struct {
	PreStart  string
	PostStart string
}

// String serializes the hash as "pre;post"
func (h SpecialFilesHash) String() string {
	return h.PreStart + ";" + h.PostStart
}

// IsZero reports whether no hash was recorded
func (h SpecialFilesHash) IsZero() bool {
	return h.PreStart == "" && h.PostStart == ""
}

// ParseSpecialFilesHash parses the "pre;post" form
func ParseSpecialFilesHash(s string) (SpecialFilesHash, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ";")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return SpecialFilesHash{}, fmt.Errorf("malformed special files hash %q", s)
	}
	return SpecialFilesHash{PreStart: parts[0], PostStart: parts[1]}, nil
}
