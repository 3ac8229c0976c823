package cache

import (
	"context"
	"time"

	"github.com/platinummonkey/webcompile/pkg/compilation/buildresult"
	"github.com/platinummonkey/webcompile/pkg/compilation/config"
	"github.com/platinummonkey/webcompile/pkg/compilation/fingerprint"
	"github.com/sirupsen/logrus"
)

// Tier is one backend in the cache chain. Policy decisions live in Put:
// a tier that does not accept a result returns ErrNotCacheable (or
// ErrReadOnly for read-only tiers).
type Tier interface {
	// Name identifies the tier in logs and metrics
	Name() string

	// Get returns the cached result or ErrCacheMiss
	Get(ctx context.Context, key string) (*buildresult.Result, error)

	// Put stores a result whose fingerprint is already computed
	Put(ctx context.Context, key string, result *buildresult.Result) error

	// Remove drops the entry, missing entries are not an error
	Remove(ctx context.Context, key string) error
}

// Lookup describes one cache query
type Lookup struct {
	Key string

	// VirtualPath, when set, must match the cached result's identity
	VirtualPath string

	// Expected, when set, must match the cached fingerprint
	Expected fingerprint.Fingerprint

	// EnsureUpToDate revalidates the entry against current dependency state
	EnsureUpToDate bool
}

// Observer receives cache events, typically to feed metrics
type Observer interface {
	CacheHit(tier string)
	CacheMiss(tier string)
	CacheEviction(tier, reason string)
}

type noopObserver struct{}

func (noopObserver) CacheHit(string)              {}
func (noopObserver) CacheMiss(string)             {}
func (noopObserver) CacheEviction(string, string) {}

// Eviction reasons reported to observers
const (
	ReasonStale      = "stale"
	ReasonStaleRace  = "stale-race"
	ReasonAssembly   = "assembly-removed"
	ReasonDependency = "dependency-changed"
	ReasonCorrupt    = "corrupt"
	ReasonMissing    = "assembly-missing"
)

// Stats represents memory tier statistics
type Stats struct {
	Hits       int64
	Misses     int64
	HitRate    float64
	Pinned     int64
	Errors     int64
	NoCompile  int64
	Assemblies int64
}

// ChainConfig holds chain configuration
type ChainConfig struct {
	// Source reads dependency files for revalidation
	Source fingerprint.Source

	// UpToDateCheckInterval throttles revalidation per entry, 0 disables throttling
	UpToDateCheckInterval time.Duration

	Observer Observer
	Logger   *logrus.Logger

	// Now is used instead of time.Now when set
	Now func() time.Time
}

// MemoryConfig holds memory tier configuration
type MemoryConfig struct {
	ErrorTTL            time.Duration
	NoCompileTTL        time.Duration
	MaxTransientEntries int
}

// DefaultMemoryConfig returns default memory tier configuration
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		ErrorTTL:            config.DefaultErrorResultTTL,
		NoCompileTTL:        config.DefaultNoCompileTTL,
		MaxTransientEntries: config.DefaultMaxTransientEntries,
	}
}

// DiskConfig holds disk tier configuration
type DiskConfig struct {
	// Name identifies the tier, defaults to "disk"
	Name string

	// Dir holds .compiled records and, for the codegen tier, assemblies
	Dir string

	// ReadOnly rejects every Put
	ReadOnly bool

	// Precompiled marks loaded results as trusted
	Precompiled bool

	Logger *logrus.Logger
}
