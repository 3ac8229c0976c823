package compilation

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/platinummonkey/webcompile/pkg/compilation/config"
)

// keyMemo caches virtual path to cache key conversions. Keys are requested on
// every lookup so the derivation is memoized.
var keyMemo = mustNewKeyMemo(config.DefaultCacheKeyMemoSize)

func mustNewKeyMemo(size int) *lru.Cache[string, string] {
	c, err := lru.New[string, string](size)
	if err != nil {
		panic(fmt.Sprintf("compilation: invalid cache key memo size %d: %v", size, err))
	}
	return c
}

// CacheKey derives the filesystem-safe cache key of a virtual path.
//
// Format: {lower(file name)}.{fnv32a(lower(directory)) as hex}
// The application root is named "root".
//
// Changing the format invalidates every persisted .compiled record.
func CacheKey(vpath string) string {
	clean := CleanPath(vpath)
	if key, ok := keyMemo.Get(clean); ok {
		return key
	}

	name := strings.ToLower(Name(clean))
	if name == "" {
		name = "root"
	}
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(Parent(clean))))
	key := fmt.Sprintf("%s.%08x", sanitizeKey(name), h.Sum32())

	keyMemo.Add(clean, key)
	return key
}

// CacheKeyForDirectory derives the key used for assemblies built from a
// whole directory (code directories)
func CacheKeyForDirectory(vdir string) string {
	return "dir_" + CacheKey(vdir)
}

// sanitizeKey replaces characters that are not safe in file names
func sanitizeKey(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// AssemblyNamePrefix is prepended to every dynamically generated assembly
const AssemblyNamePrefix = "App_Web_"

// AssemblyName returns the name of the assembly built for a virtual directory.
// With random set, a short random suffix is appended so a new build never
// collides with an output still locked by a previous one. Precompilation for
// deployment disables the suffix to keep names stable.
func AssemblyName(base string, random bool) string {
	name := strings.TrimPrefix(sanitizeKey(strings.ToLower(base)), strings.ToLower(AssemblyNamePrefix))
	if name == "" {
		name = "root"
	}
	name = AssemblyNamePrefix + name
	if !random {
		return name
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return name + "." + suffix
}

// AssemblyBaseForDirectory derives the assembly base name for a virtual directory
func AssemblyBaseForDirectory(vdir string) string {
	rel := Relative(vdir)
	if rel == "" {
		return "root"
	}
	return strings.ReplaceAll(rel, "/", "_")
}
