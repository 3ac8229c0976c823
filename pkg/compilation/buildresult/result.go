// Package buildresult defines the outcome of compiling one build unit.
//
// A Result is a closed tagged union discriminated by Kind. Variant specific
// attributes are only meaningful for their kind; every switch over Kind at a
// serialization or cache boundary must be exhaustive.
package buildresult

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/fingerprint"
)

// Result is the cached outcome of compiling one unit
type Result struct {
	kind         Kind
	virtualPath  string
	dependencies []string
	references   []string

	assembly     compilation.Assembly
	typeName     string
	customString string
	codeUnit     []byte
	compileErr   *compilation.CompileError

	flags atomic.Uint32

	// fingerprint is computed at most once; fpComputed guards it
	fpMu        sync.Mutex
	fp          fingerprint.Fingerprint
	fpComputed  bool
	lastChecked atomic.Int64
	checking    atomic.Bool
}

// Option configures a result at construction
type Option func(*Result)

// WithFlags sets cache policy flags
func WithFlags(f Flags) Option {
	return func(r *Result) {
		r.flags.Store(uint32(f))
	}
}

// WithReferences records the dynamic assemblies the result was compiled against
func WithReferences(names ...string) Option {
	return func(r *Result) {
		r.references = orderedSet(names)
	}
}

// WithFingerprint sets an already known fingerprint, e.g. one read from a record
func WithFingerprint(fp fingerprint.Fingerprint) Option {
	return func(r *Result) {
		r.fp = fp
		r.fpComputed = true
	}
}

func newResult(kind Kind, vpath string, deps []string, opts []Option) *Result {
	r := &Result{
		kind:         kind,
		virtualPath:  vpath,
		dependencies: orderedSet(deps),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewCompiledAssembly creates a result wrapping a compiled assembly
func NewCompiledAssembly(vpath string, asm compilation.Assembly, deps []string, opts ...Option) *Result {
	r := newResult(KindCompiledAssembly, vpath, deps, opts)
	r.assembly = asm
	return r
}

// NewCompiledType creates a result wrapping a type inside a compiled assembly
func NewCompiledType(vpath string, asm compilation.Assembly, typeName string, deps []string, opts ...Option) *Result {
	r := newResult(KindCompiledType, vpath, deps, opts)
	r.assembly = asm
	r.typeName = typeName
	return r
}

// NewCompileError creates a result capturing a compile failure
func NewCompileError(vpath string, err *compilation.CompileError, deps []string, opts ...Option) *Result {
	r := newResult(KindCompileError, vpath, deps, opts)
	r.compileErr = err
	return r
}

// NewCustomString creates a result carrying a unit-defined string
func NewCustomString(vpath, value string, asm compilation.Assembly, deps []string, opts ...Option) *Result {
	r := newResult(KindCustomString, vpath, deps, opts)
	r.customString = value
	r.assembly = asm
	return r
}

// NewCodeCompileUnit creates a result carrying a serialized intermediate tree
func NewCodeCompileUnit(vpath string, unit []byte, deps []string, opts ...Option) *Result {
	r := newResult(KindCodeCompileUnit, vpath, deps, opts)
	r.codeUnit = append([]byte(nil), unit...)
	return r
}

// NewNoCompile creates a result for a unit interpreted at runtime
func NewNoCompile(vpath string, deps []string, opts ...Option) *Result {
	return newResult(KindNoCompile, vpath, deps, opts)
}

// Kind returns the variant discriminator
func (r *Result) Kind() Kind {
	return r.kind
}

// VirtualPath returns the identity of the unit the result belongs to
func (r *Result) VirtualPath() string {
	return r.virtualPath
}

// Assembly returns the backing assembly, zero for kinds without one
func (r *Result) Assembly() compilation.Assembly {
	return r.assembly
}

// TypeName returns the resolved type name of CompiledType results
func (r *Result) TypeName() string {
	return r.typeName
}

// CustomString returns the value of CustomString results
func (r *Result) CustomString() string {
	return r.customString
}

// Dependencies returns a copy of the ordered dependency set
func (r *Result) Dependencies() []string {
	return append([]string(nil), r.dependencies...)
}

// References returns a copy of the referenced dynamic assembly names
func (r *Result) References() []string {
	return append([]string(nil), r.references...)
}

// CodeUnit returns a copy of the serialized intermediate tree
func (r *Result) CodeUnit() []byte {
	return append([]byte(nil), r.codeUnit...)
}

// Err returns the captured compile error for CompileError results
func (r *Result) Err() error {
	if r.kind != KindCompileError || r.compileErr == nil {
		return nil
	}
	return r.compileErr
}

// Flags returns the cache policy flags
func (r *Result) Flags() Flags {
	return Flags(r.flags.Load())
}

// HasFlag reports whether all bits of f are set
func (r *Result) HasFlag(f Flags) bool {
	return r.Flags().Has(f)
}

// SetFlags sets additional flags
func (r *Result) SetFlags(f Flags) {
	r.flags.Or(uint32(f))
}

// ClearFlags clears flags
func (r *Result) ClearFlags(f Flags) {
	r.flags.And(^uint32(f))
}

// CacheToMemory reports whether the memory tier may hold the result
func (r *Result) CacheToMemory() bool {
	return !r.Flags().Any(FlagNoMemoryCache | FlagDelayLoad)
}

// CacheToDisk reports whether durable tiers may hold the result
func (r *Result) CacheToDisk() bool {
	switch r.kind {
	case KindCompileError, KindNoCompile:
		return false
	case KindCompiledAssembly, KindCompiledType, KindCustomString, KindCodeCompileUnit:
		return !r.HasFlag(FlagNoDiskCache)
	default:
		return false
	}
}

// UsesAssembly reports whether the result was built into or against the named assembly
func (r *Result) UsesAssembly(name string) bool {
	if name == "" {
		return false
	}
	if r.assembly.Name == name {
		return true
	}
	for _, ref := range r.references {
		if ref == name {
			return true
		}
	}
	return false
}

// Fingerprint returns the memoized fingerprint and whether it was computed
func (r *Result) Fingerprint() (fingerprint.Fingerprint, bool) {
	r.fpMu.Lock()
	defer r.fpMu.Unlock()
	return r.fp, r.fpComputed
}

// EnsureFingerprint computes the fingerprint once and returns it. Later calls
// return the memoized value even if dependencies changed meanwhile.
func (r *Result) EnsureFingerprint(src fingerprint.Source) fingerprint.Fingerprint {
	r.fpMu.Lock()
	defer r.fpMu.Unlock()
	if !r.fpComputed {
		r.fp = fingerprint.Compute(src, r.dependencies)
		r.fpComputed = true
	}
	return r.fp
}

// IsUpToDate revalidates the result against current dependency state.
//
// Watched and precompiled results are trusted. Otherwise the check runs at
// most once per interval; a concurrent check in progress or a recent check
// counts as valid.
func (r *Result) IsUpToDate(src fingerprint.Source, now time.Time, interval time.Duration) bool {
	if r.Flags().Any(FlagWatched | FlagPrecompiled) {
		return true
	}

	if interval > 0 {
		last := r.lastChecked.Load()
		if last != 0 && now.UnixNano()-last < int64(interval) {
			return true
		}
	}

	if !r.checking.CompareAndSwap(false, true) {
		return true
	}
	defer r.checking.Store(false)

	valid := r.matches(src)
	r.lastChecked.Store(now.UnixNano())
	return valid
}

// StillValid performs an unthrottled validation, used right after insertion.
// A dependency modified after utcStart also makes the result stale.
func (r *Result) StillValid(src fingerprint.Source, utcStart time.Time) bool {
	if !r.matches(src) {
		return false
	}
	if fingerprint.ModifiedSince(src, r.dependencies, utcStart) {
		return false
	}
	r.lastChecked.Store(time.Now().UnixNano())
	return true
}

func (r *Result) matches(src fingerprint.Source) bool {
	stored := r.EnsureFingerprint(src)
	if !stored.Valid() {
		return false
	}
	return fingerprint.Compute(src, r.dependencies) == stored
}

// orderedSet removes duplicates and empty values, keeping first occurrence order
func orderedSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
