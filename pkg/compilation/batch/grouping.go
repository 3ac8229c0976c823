package batch

import (
	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/config"
)

// Limits bounds the size of one batch
type Limits struct {
	// MaxFiles is the maximum number of units per batch
	MaxFiles int

	// MaxBytes is the maximum estimated generated size per batch, 0 means unbounded
	MaxBytes int64

	// DefaultLanguage compiles the default batch of language-free units
	DefaultLanguage string
}

// DefaultLimits returns the default batch limits
func DefaultLimits() Limits {
	return Limits{
		MaxFiles:        config.DefaultMaxBatchSize,
		MaxBytes:        config.DefaultMaxBatchGeneratedFileSize,
		DefaultLanguage: config.DefaultLanguage,
	}
}

// Batch is a set of units compiled together into one assembly
type Batch struct {
	Language string
	Culture  string
	Units    []*compilation.BuildUnit

	size      int64
	typeNames map[string]struct{}
}

func newBatch(language, culture string) *Batch {
	return &Batch{
		Language:  language,
		Culture:   culture,
		typeNames: make(map[string]struct{}),
	}
}

// Size returns the estimated generated size of the batch
func (b *Batch) Size() int64 {
	return b.size
}

// Len returns the number of units in the batch
func (b *Batch) Len() int {
	return len(b.Units)
}

func (b *Batch) full(limits Limits) bool {
	if limits.MaxFiles > 0 && len(b.Units) >= limits.MaxFiles {
		return true
	}
	return limits.MaxBytes > 0 && b.size >= limits.MaxBytes
}

func (b *Batch) collides(u *compilation.BuildUnit) bool {
	for _, name := range u.TypeNames {
		if _, ok := b.typeNames[name]; ok {
			return true
		}
	}
	return false
}

func (b *Batch) add(u *compilation.BuildUnit) {
	b.Units = append(b.Units, u)
	b.size += u.SizeHint
	for _, name := range u.TypeNames {
		b.typeNames[name] = struct{}{}
	}
}

type groupKey struct {
	language string
	culture  string
}

// Group splits one dependency level into batches. Units needing a specific
// language and culture share a batch with units needing the same; units with
// no language requirement go to the default batch. A unit opens a new batch
// when the current one is full or already declares one of its type names.
//
// Batches are returned in the order they were closed; batches still open at
// the end follow in the order their key was first seen.
func Group(level []*compilation.BuildUnit, limits Limits) []*Batch {
	if limits.DefaultLanguage == "" {
		limits.DefaultLanguage = config.DefaultLanguage
	}

	var closed []*Batch
	current := make(map[groupKey]*Batch)
	var order []groupKey

	for _, u := range level {
		key := groupKey{language: u.Language, culture: u.Culture}
		language := u.Language
		if language == "" {
			key = groupKey{}
			language = limits.DefaultLanguage
		}

		b, ok := current[key]
		if !ok {
			b = newBatch(language, key.culture)
			current[key] = b
			order = append(order, key)
		} else if b.full(limits) || b.collides(u) {
			closed = append(closed, b)
			b = newBatch(language, key.culture)
			current[key] = b
		}
		b.add(u)
	}

	for _, key := range order {
		if b := current[key]; b.Len() > 0 {
			closed = append(closed, b)
		}
	}
	return closed
}
