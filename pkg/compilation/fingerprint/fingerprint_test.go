package fingerprint

import (
	"errors"
	"io/fs"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFS() fstest.MapFS {
	mtime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return fstest.MapFS{
		"default.aspx":       {Data: []byte("<%@ Page %>"), ModTime: mtime},
		"default.aspx.cs":    {Data: []byte("partial class Default {}"), ModTime: mtime},
		"site.master":        {Data: []byte("<%@ Master %>"), ModTime: mtime},
		"admin/users.aspx":   {Data: []byte("<%@ Page %>users"), ModTime: mtime},
		"App_Code/helper.cs": {Data: []byte("class Helper {}"), ModTime: mtime},
	}
}

func TestCompute_OrderIndependent(t *testing.T) {
	src := NewFSSource(testFS())

	a := Compute(src, []string{"~/default.aspx", "~/default.aspx.cs", "~/site.master"})
	b := Compute(src, []string{"~/site.master", "~/default.aspx", "~/default.aspx.cs"})
	c := Compute(src, []string{"~/default.aspx.cs", "~/site.master", "~/default.aspx", "~/site.master"})

	assert.NotEqual(t, Empty, a)
	assert.True(t, a.Valid())
	assert.Equal(t, a, b)
	assert.Equal(t, a, c, "duplicates must not change the fingerprint")
}

func TestCompute_ContentChange(t *testing.T) {
	fsys := testFS()
	src := NewFSSource(fsys)
	deps := []string{"~/default.aspx", "~/default.aspx.cs"}

	before := Compute(src, deps)
	fsys["default.aspx.cs"] = &fstest.MapFile{Data: []byte("partial class Default { int x; }"), ModTime: fsys["default.aspx.cs"].ModTime}
	after := Compute(src, deps)

	assert.NotEqual(t, before, after)
}

func TestCompute_TimestampMode(t *testing.T) {
	fsys := testFS()
	src := NewFSSource(fsys)
	deps := []string{"~/default.aspx"}

	before := ComputeWithMode(src, deps, ModeTimestamp)
	assert.Equal(t, before, ComputeWithMode(src, deps, ModeTimestamp))

	fsys["default.aspx"].ModTime = fsys["default.aspx"].ModTime.Add(time.Second)
	assert.NotEqual(t, before, ComputeWithMode(src, deps, ModeTimestamp))
}

func TestCompute_Empty(t *testing.T) {
	src := NewFSSource(testFS())
	assert.Equal(t, Empty, Compute(src, nil))
	assert.Equal(t, Empty, Compute(src, []string{""}))
}

func TestCompute_MissingFileIsHashed(t *testing.T) {
	fsys := testFS()
	src := NewFSSource(fsys)
	deps := []string{"~/default.aspx", "~/later.ascx"}

	missing := Compute(src, deps)
	require.True(t, missing.Valid())

	fsys["later.ascx"] = &fstest.MapFile{Data: []byte("<%@ Control %>")}
	assert.NotEqual(t, missing, Compute(src, deps))
}

func TestCompute_FieldBoundariesCannotBeForged(t *testing.T) {
	// one file whose content embeds a second path and its content
	forged := NewFSSource(fstest.MapFS{
		"a": {Data: []byte("1\x00~/b\x002")},
	})
	split := NewFSSource(fstest.MapFS{
		"a": {Data: []byte("1")},
		"b": {Data: []byte("2")},
	})
	assert.NotEqual(t, Compute(forged, []string{"~/a"}), Compute(split, []string{"~/a", "~/b"}))

	// content imitating a missing dependency
	present := NewFSSource(fstest.MapFS{"a": {Data: []byte("m")}})
	missing := NewFSSource(fstest.MapFS{})
	assert.NotEqual(t, Compute(present, []string{"~/a"}), Compute(missing, []string{"~/a"}))
}

type failingSource struct {
	Source
	failOn string
}

func (f failingSource) Stat(vpath string) (FileState, error) {
	if vpath == f.failOn {
		return FileState{}, errors.New("permission denied")
	}
	return f.Source.Stat(vpath)
}

func (f failingSource) ReadFile(vpath string) ([]byte, error) {
	return f.Source.ReadFile(vpath)
}

func TestCompute_UnreadableIsInvalid(t *testing.T) {
	src := failingSource{Source: NewFSSource(testFS()), failOn: "~/site.master"}
	got := Compute(src, []string{"~/default.aspx", "~/site.master"})
	assert.Equal(t, Invalid, got)
	assert.False(t, got.Valid())
}

func TestModifiedSince(t *testing.T) {
	fsys := testFS()
	src := NewFSSource(fsys)
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	deps := []string{"~/default.aspx", "~/gone.aspx"}

	assert.False(t, ModifiedSince(src, deps, start))
	assert.False(t, ModifiedSince(src, deps, time.Time{}))

	fsys["default.aspx"].ModTime = start.Add(time.Minute)
	assert.True(t, ModifiedSince(src, deps, start))
}

func TestFSSource_Stat(t *testing.T) {
	src := NewFSSource(testFS())

	state, err := src.Stat("~/admin")
	require.NoError(t, err)
	assert.True(t, state.IsDir)

	_, err = src.Stat("~/nope.aspx")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}
