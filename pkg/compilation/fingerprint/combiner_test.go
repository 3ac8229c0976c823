package fingerprint

import (
	"io/fs"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapDirs enumerates virtual directories from a fixed listing
type mapDirs struct {
	files   map[string][]string
	subdirs map[string][]string
}

func (m mapDirs) ListFiles(dir string) ([]string, error) {
	files, ok := m.files[dir]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return files, nil
}

func (m mapDirs) ListSubdirectories(dir string) ([]string, error) {
	return m.subdirs[dir], nil
}

func TestCombiner_Deterministic(t *testing.T) {
	src := NewFSSource(testFS())

	build := func() string {
		c := NewCombiner()
		c.AddString("debug=false")
		c.AddInt(42)
		c.AddFile(src, "~/default.aspx")
		return c.Sum()
	}
	assert.Equal(t, build(), build())
}

func TestCombiner_ValuesAreDelimited(t *testing.T) {
	joined := NewCombiner()
	joined.AddString("a\x00b")

	split := NewCombiner()
	split.AddString("a")
	split.AddString("b")

	assert.NotEqual(t, joined.Sum(), split.Sum())
}

func TestCombiner_AddDirectory(t *testing.T) {
	fsys := testFS()
	fsys["App_Code/sub/more.cs"] = &fstest.MapFile{Data: []byte("class More {}")}
	src := NewFSSource(fsys)
	dirs := mapDirs{
		files: map[string][]string{
			"~/App_Code":     {"~/App_Code/helper.cs"},
			"~/App_Code/sub": {"~/App_Code/sub/more.cs"},
		},
		subdirs: map[string][]string{
			"~/App_Code": {"~/App_Code/sub"},
		},
	}

	sum := func() string {
		c := NewCombiner()
		require.NoError(t, c.AddDirectory(src, dirs, "~/App_Code"))
		return c.Sum()
	}

	before := sum()
	fsys["App_Code/sub/more.cs"].ModTime = time.Now()
	assert.NotEqual(t, before, sum(), "nested file changes must change the hash")
}

func TestCombiner_MissingDirectory(t *testing.T) {
	c := NewCombiner()
	err := c.AddDirectory(NewFSSource(testFS()), mapDirs{}, "~/App_Code")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Count())
}

func TestSpecialFilesHash_RoundTrip(t *testing.T) {
	h := SpecialFilesHash{PreStart: "abc", PostStart: "def"}
	assert.Equal(t, "abc;def", h.String())

	parsed, err := ParseSpecialFilesHash("abc;def\n")
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseSpecialFilesHash("abc")
	assert.Error(t, err)
	_, err = ParseSpecialFilesHash(";def")
	assert.Error(t, err)

	assert.True(t, SpecialFilesHash{}.IsZero())
}
