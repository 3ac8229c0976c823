package batch

import (
	"fmt"
	"testing"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(vpath string, deps ...string) *compilation.BuildUnit {
	return &compilation.BuildUnit{VirtualPath: vpath, Kind: compilation.KindPage, DependsOn: deps}
}

func paths(units []*compilation.BuildUnit) []string {
	out := make([]string, 0, len(units))
	for _, u := range units {
		out = append(out, u.VirtualPath)
	}
	return out
}

func TestLevels_Chain(t *testing.T) {
	a := unit("~/a.aspx", "~/b.ascx")
	b := unit("~/b.ascx", "~/c.ascx")
	c := unit("~/c.ascx")

	levels, err := Levels([]*compilation.BuildUnit{a, b, c})
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"~/c.ascx"}, paths(levels[0]))
	assert.Equal(t, []string{"~/b.ascx"}, paths(levels[1]))
	assert.Equal(t, []string{"~/a.aspx"}, paths(levels[2]))
}

func TestLevels_Cycle(t *testing.T) {
	a := unit("~/a.aspx", "~/b.ascx")
	b := unit("~/b.ascx", "~/c.ascx")
	c := unit("~/c.ascx", "~/a.aspx")

	_, err := Levels([]*compilation.BuildUnit{a, b, c})
	var circular *compilation.CircularReferenceError
	require.ErrorAs(t, err, &circular)
	assert.Contains(t, []string{"~/a.aspx", "~/b.ascx", "~/c.ascx"}, circular.VirtualPath)
}

func TestLevels_IgnoresExternalAndSelfEdges(t *testing.T) {
	a := unit("~/a.aspx", "~/other/x.ascx", "~/a.aspx")
	b := unit("~/b.aspx")

	levels, err := Levels([]*compilation.BuildUnit{a, b})
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, []string{"~/a.aspx", "~/b.aspx"}, paths(levels[0]), "input order is kept")
}

func TestLevels_UncleanDependencyPaths(t *testing.T) {
	a := unit("~/a.aspx", "~/controls/../b.ascx")
	b := unit("~/b.ascx", `~\c.ascx`)
	c := unit("~/c.ascx", "/a.aspx")

	_, err := Levels([]*compilation.BuildUnit{a, b, c})
	var circular *compilation.CircularReferenceError
	require.ErrorAs(t, err, &circular, "edges written in unclean form still close the cycle")

	c.DependsOn = nil
	levels, err := Levels([]*compilation.BuildUnit{a, b, c})
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"~/c.ascx"}, paths(levels[0]))
	assert.Equal(t, []string{"~/b.ascx"}, paths(levels[1]))
	assert.Equal(t, []string{"~/a.aspx"}, paths(levels[2]))
}

func TestLevels_Diamond(t *testing.T) {
	top := unit("~/top.aspx", "~/left.ascx", "~/right.ascx")
	left := unit("~/left.ascx", "~/base.ascx")
	right := unit("~/right.ascx", "~/mid.ascx")
	mid := unit("~/mid.ascx", "~/base.ascx")
	base := unit("~/base.ascx")

	levels, err := Levels([]*compilation.BuildUnit{top, left, right, mid, base})
	require.NoError(t, err)
	require.Len(t, levels, 4)
	assert.Equal(t, []string{"~/base.ascx"}, paths(levels[0]))
	assert.Equal(t, []string{"~/left.ascx", "~/mid.ascx"}, paths(levels[1]))
	assert.Equal(t, []string{"~/right.ascx"}, paths(levels[2]))
	assert.Equal(t, []string{"~/top.aspx"}, paths(levels[3]))
}

func TestLevels_DeepChain(t *testing.T) {
	const n = 10000
	units := make([]*compilation.BuildUnit, n)
	for i := 0; i < n; i++ {
		var deps []string
		if i+1 < n {
			deps = []string{fmt.Sprintf("~/u%d.ascx", i+1)}
		}
		units[i] = unit(fmt.Sprintf("~/u%d.ascx", i), deps...)
	}

	levels, err := Levels(units)
	require.NoError(t, err)
	assert.Len(t, levels, n)
	assert.Equal(t, "~/u0.ascx", levels[n-1][0].VirtualPath)
}

func TestLevels_Empty(t *testing.T) {
	levels, err := Levels(nil)
	require.NoError(t, err)
	assert.Empty(t, levels)
}

func TestApplySkipPolicy(t *testing.T) {
	helper := &compilation.BuildUnit{VirtualPath: "~/helper.cs", Kind: compilation.KindCode, PassThrough: true}
	unused := &compilation.BuildUnit{VirtualPath: "~/unused.cs", Kind: compilation.KindCode, PassThrough: true}
	strings := &compilation.BuildUnit{VirtualPath: "~/strings.resx", Kind: compilation.KindResource, PassThrough: true}
	page := unit("~/a.aspx", "~/helper.cs")

	kept := ApplySkipPolicy([]*compilation.BuildUnit{helper, unused, strings, page})
	assert.Equal(t, []string{"~/helper.cs", "~/a.aspx"}, paths(kept))

	assert.False(t, Skippable(page, 0), "only pass-through units are skipped")
	assert.False(t, Skippable(helper, 1))
	assert.True(t, Skippable(unused, 0))
}

func TestApplySkipPolicy_UncleanDependencyPaths(t *testing.T) {
	helper := &compilation.BuildUnit{VirtualPath: "~/lib/helper.cs", Kind: compilation.KindCode, PassThrough: true}
	self := &compilation.BuildUnit{VirtualPath: "~/lib/self.cs", Kind: compilation.KindCode, PassThrough: true,
		DependsOn: []string{"~/lib/./self.cs"}}
	page := unit("~/a.aspx", "~/pages/../lib/helper.cs")

	kept := ApplySkipPolicy([]*compilation.BuildUnit{helper, self, page})
	assert.Equal(t, []string{"~/lib/helper.cs", "~/a.aspx"}, paths(kept))
}
