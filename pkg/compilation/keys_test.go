package compilation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKey_Deterministic(t *testing.T) {
	k1 := CacheKey("~/admin/Default.aspx")
	k2 := CacheKey("/admin/default.aspx")
	assert.Equal(t, k1, k2, "keys are case-insensitive and accept both path forms")
	assert.True(t, strings.HasPrefix(k1, "default.aspx."))
}

func TestCacheKey_DistinctDirectories(t *testing.T) {
	assert.NotEqual(t, CacheKey("~/a/default.aspx"), CacheKey("~/b/default.aspx"))
}

func TestCacheKey_Root(t *testing.T) {
	key := CacheKey("~")
	assert.True(t, strings.HasPrefix(key, "root."))
}

func TestCacheKey_FilesystemSafe(t *testing.T) {
	key := CacheKey("~/dir/we ird:name?.aspx")
	for _, r := range key {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-'
		require.True(t, ok, "unexpected rune %q in %s", r, key)
	}
}

func TestCacheKeyForDirectory(t *testing.T) {
	assert.NotEqual(t, CacheKey("~/App_Code"), CacheKeyForDirectory("~/App_Code"))
}

func TestAssemblyName(t *testing.T) {
	fixed := AssemblyName("admin_users", false)
	assert.Equal(t, "App_Web_admin_users", fixed)

	r1 := AssemblyName("admin_users", true)
	r2 := AssemblyName("admin_users", true)
	assert.True(t, strings.HasPrefix(r1, "App_Web_admin_users."))
	assert.Len(t, strings.TrimPrefix(r1, "App_Web_admin_users."), 8)
	assert.NotEqual(t, r1, r2)

	assert.Equal(t, "App_Web_root", AssemblyName("", false))
	assert.Equal(t, "App_Web_code", AssemblyName("App_Web_code", false))
}

func TestAssemblyBaseForDirectory(t *testing.T) {
	assert.Equal(t, "root", AssemblyBaseForDirectory("~"))
	assert.Equal(t, "admin_users", AssemblyBaseForDirectory("~/admin/users"))
}
