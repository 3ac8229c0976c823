// Package fingerprint computes validity signatures over sets of dependency files.
//
// CRITICAL INVARIANT: SORTED ORDER REQUIREMENT
// Dependencies are sorted and de-duplicated before hashing so that the same
// dependency state always produces the same fingerprint regardless of the
// order in which dependencies were discovered.
//
// Fingerprint Format Version: v2
// Every field is written as a uvarint length followed by its bytes, so no
// field content can imitate a boundary. Each dependency contributes its path
// field, a one byte tag and the state fields for that tag: the file content
// (ModeContent), or size and modification time (ModeTimestamp and
// directories). Missing files contribute the tag alone.
//
// CHANGING THIS ALGORITHM INVALIDATES ALL PERSISTED CACHE RECORDS
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"hash"
	"io/fs"
	"sort"
	"strconv"
	"time"
)

// Fingerprint is a comparable token for the state of a dependency set
type Fingerprint string

const (
	// Empty is the fingerprint of an empty dependency set
	Empty Fingerprint = ""

	// Invalid is returned when a dependency could not be read. Cache entries
	// carrying it must never be trusted.
	Invalid Fingerprint = "!invalid"
)

// Valid reports whether the fingerprint can be used for cache validation
func (f Fingerprint) Valid() bool {
	return f != Invalid
}

func (f Fingerprint) String() string {
	return string(f)
}

// Mode selects what part of a dependency's state is hashed
type Mode int

const (
	// ModeContent hashes full file contents
	ModeContent Mode = iota
	// ModeTimestamp hashes file size and modification time
	ModeTimestamp
)

const formatVersion = "v2"

// dependency state tags
const (
	tagMissing   byte = 'm'
	tagTimestamp byte = 't'
	tagContent   byte = 'c'
)

// writeField writes a length-prefixed field
func writeField(h hash.Hash, b []byte) {
	var n [binary.MaxVarintLen64]byte
	h.Write(n[:binary.PutUvarint(n[:], uint64(len(b)))])
	h.Write(b)
}

// Compute returns the content fingerprint of deps
func Compute(src Source, deps []string) Fingerprint {
	return ComputeWithMode(src, deps, ModeContent)
}

// ComputeWithMode returns the fingerprint of deps using the given mode.
// I/O failures are never returned; they produce Invalid.
func ComputeWithMode(src Source, deps []string, mode Mode) Fingerprint {
	sorted := normalize(deps)
	if len(sorted) == 0 {
		return Empty
	}

	hasher := sha256.New()
	writeField(hasher, []byte(formatVersion))

	for _, dep := range sorted {
		writeField(hasher, []byte(dep))

		state, err := src.Stat(dep)
		if errors.Is(err, fs.ErrNotExist) {
			hasher.Write([]byte{tagMissing})
			continue
		}
		if err != nil {
			return Invalid
		}

		if state.IsDir || mode == ModeTimestamp {
			hasher.Write([]byte{tagTimestamp})
			writeField(hasher, []byte(strconv.FormatInt(state.Size, 10)))
			writeField(hasher, []byte(strconv.FormatInt(state.ModTime.UTC().UnixNano(), 10)))
			continue
		}

		content, err := src.ReadFile(dep)
		if err != nil {
			return Invalid
		}
		hasher.Write([]byte{tagContent})
		writeField(hasher, content)
	}

	sum := hasher.Sum(nil)
	return Fingerprint(hex.EncodeToString(sum[:16]))
}

// ModifiedSince reports whether any existing dependency was modified after t.
// Unreadable dependencies count as modified.
func ModifiedSince(src Source, deps []string, t time.Time) bool {
	if t.IsZero() {
		return false
	}
	for _, dep := range normalize(deps) {
		state, err := src.Stat(dep)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return true
		}
		if state.ModTime.After(t) {
			return true
		}
	}
	return false
}

// normalize sorts and de-duplicates dependencies
func normalize(deps []string) []string {
	if len(deps) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(deps))
	out := make([]string, 0, len(deps))
	for _, d := range deps {
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
