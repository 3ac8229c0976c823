package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/buildresult"
	"github.com/sirupsen/logrus"
)

// Chain is an ordered list of tiers, fastest first. A hit in a slower tier
// is promoted into every faster tier. Tier failures are logged and treated
// as misses; the chain never fails a lookup because one backend is down.
type Chain struct {
	tiers  []Tier
	memory *MemoryTier
	config ChainConfig

	// serializes lookups past the first tier and all writes
	mu sync.Mutex
}

// NewChain creates a chain over the given tiers
func NewChain(cfg ChainConfig, tiers ...Tier) *Chain {
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Chain{tiers: tiers, config: cfg}
	for _, t := range tiers {
		if m, ok := t.(*MemoryTier); ok {
			c.memory = m
			break
		}
	}
	return c
}

// Tiers returns the tiers in lookup order
func (c *Chain) Tiers() []Tier {
	return c.tiers
}

// Memory returns the memory tier, or nil if the chain has none
func (c *Chain) Memory() *MemoryTier {
	return c.memory
}

// Get looks the key up tier by tier. A cached compile error is returned as
// its error. A miss returns ErrCacheMiss.
func (c *Chain) Get(ctx context.Context, lookup Lookup) (*buildresult.Result, error) {
	if lookup.Key == "" {
		return nil, ErrInvalidCacheKey
	}
	if len(c.tiers) == 0 {
		return nil, ErrCacheMiss
	}

	if r, ok := c.lookupTier(ctx, 0, lookup); ok {
		return hit(r)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 1; i < len(c.tiers); i++ {
		r, ok := c.lookupTier(ctx, i, lookup)
		if !ok {
			continue
		}
		c.promote(ctx, i, lookup.Key, r)
		return hit(r)
	}
	return nil, ErrCacheMiss
}

func hit(r *buildresult.Result) (*buildresult.Result, error) {
	if r.Kind() == buildresult.KindCompileError {
		if err := r.Err(); err != nil {
			return nil, err
		}
		return nil, compilation.NewCompileError(r.VirtualPath(), nil)
	}
	return r, nil
}

// lookupTier returns a valid result from tier i, discarding stale entries
func (c *Chain) lookupTier(ctx context.Context, i int, lookup Lookup) (*buildresult.Result, bool) {
	t := c.tiers[i]
	log := c.config.Logger.WithFields(logrus.Fields{
		"tier": t.Name(),
		"key":  lookup.Key,
	})

	r, err := t.Get(ctx, lookup.Key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			log.WithError(err).Warn("Cache tier lookup failed")
		}
		c.config.Observer.CacheMiss(t.Name())
		return nil, false
	}

	if lookup.VirtualPath != "" && r.VirtualPath() != lookup.VirtualPath {
		log.WithField("cached_path", r.VirtualPath()).Debug("Cache key collision, ignoring entry")
		c.config.Observer.CacheMiss(t.Name())
		return nil, false
	}

	if lookup.Expected != "" {
		if fp, ok := r.Fingerprint(); !ok || fp != lookup.Expected {
			c.config.Observer.CacheMiss(t.Name())
			return nil, false
		}
	}

	if lookup.EnsureUpToDate && c.config.Source != nil &&
		!r.IsUpToDate(c.config.Source, c.config.Now(), c.config.UpToDateCheckInterval) {
		log.Debug("Discarding stale cache entry")
		if err := t.Remove(ctx, lookup.Key); err != nil {
			log.WithError(err).Warn("Failed to remove stale cache entry")
		}
		c.config.Observer.CacheEviction(t.Name(), ReasonStale)
		c.config.Observer.CacheMiss(t.Name())
		return nil, false
	}

	c.config.Observer.CacheHit(t.Name())
	return r, true
}

// promote copies a hit from tier k into tiers 0..k-1
func (c *Chain) promote(ctx context.Context, k int, key string, r *buildresult.Result) {
	for i := 0; i < k; i++ {
		err := c.tiers[i].Put(ctx, key, r)
		if err == nil || errors.Is(err, ErrNotCacheable) || errors.Is(err, ErrReadOnly) {
			continue
		}
		c.config.Logger.WithFields(logrus.Fields{
			"tier":  c.tiers[i].Name(),
			"key":   key,
			"error": err,
		}).Warn("Failed to promote cache entry")
	}
}

// Put stores the result in every tier that accepts it, then validates it
// against dependencies once more. If a dependency changed after utcStart the
// result is removed again and Put reports false; the caller must not treat
// the result as cached. Errors from individual tiers are logged.
func (c *Chain) Put(ctx context.Context, key string, result *buildresult.Result, utcStart time.Time) (bool, error) {
	if key == "" {
		return false, ErrInvalidCacheKey
	}
	if result == nil {
		return false, ErrNotCacheable
	}

	if c.config.Source != nil {
		result.EnsureFingerprint(c.config.Source)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.tiers {
		err := t.Put(ctx, key, result)
		if err == nil || errors.Is(err, ErrNotCacheable) || errors.Is(err, ErrReadOnly) {
			continue
		}
		c.config.Logger.WithFields(logrus.Fields{
			"tier":  t.Name(),
			"key":   key,
			"error": err,
		}).Warn("Failed to write cache entry")
	}

	if c.config.Source != nil && !result.StillValid(c.config.Source, utcStart) {
		c.config.Logger.WithFields(logrus.Fields{
			"key":  key,
			"path": result.VirtualPath(),
		}).Info("Dependencies changed during compilation, discarding result")
		c.removeLocked(ctx, key, ReasonStaleRace)
		return false, nil
	}
	return true, nil
}

// Remove drops the key from every tier
func (c *Chain) Remove(ctx context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(ctx, key, "")
}

// Discard drops a result found stale after it was stored
func (c *Chain) Discard(ctx context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(ctx, key, ReasonStaleRace)
}

func (c *Chain) removeLocked(ctx context.Context, key, reason string) {
	for _, t := range c.tiers {
		if err := t.Remove(ctx, key); err != nil {
			c.config.Logger.WithFields(logrus.Fields{
				"tier":  t.Name(),
				"key":   key,
				"error": err,
			}).Warn("Failed to remove cache entry")
			continue
		}
		if reason != "" {
			c.config.Observer.CacheEviction(t.Name(), reason)
		}
	}
}

// RemoveAssembly removes every entry built into or against the named
// assembly from every tier, cascading to dependent assemblies. It returns
// the removed keys.
func (c *Chain) RemoveAssembly(ctx context.Context, name string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{})
	var keys []string
	collect := func(removed []string) {
		for _, k := range removed {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}

	for _, t := range c.tiers {
		switch tier := t.(type) {
		case *MemoryTier:
			collect(tier.RemoveAssembly(name))
		case *DiskTier:
			if tier.ReadOnly() {
				continue
			}
			removed, err := tier.RemoveAssembly(name)
			if err != nil {
				c.config.Logger.WithFields(logrus.Fields{
					"tier":     t.Name(),
					"assembly": name,
					"error":    err,
				}).Warn("Failed to remove assembly from cache tier")
			}
			collect(removed)
		}
	}

	// Tiers without an assembly index drop the same keys
	for _, key := range keys {
		for _, t := range c.tiers {
			switch t.(type) {
			case *MemoryTier, *DiskTier:
				continue
			}
			if err := t.Remove(ctx, key); err != nil {
				c.config.Logger.WithError(err).Warn("Failed to remove cache entry")
			}
		}
	}

	for range keys {
		c.config.Observer.CacheEviction(MemoryTierName, ReasonAssembly)
	}
	return keys
}

// RemoveDependency evicts in-memory entries depending on vpath. Durable
// tiers revalidate by fingerprint on their next lookup.
func (c *Chain) RemoveDependency(vpath string) map[string]*buildresult.Result {
	if c.memory == nil {
		return nil
	}
	removed := c.memory.RemoveDependency(vpath)
	for range removed {
		c.config.Observer.CacheEviction(MemoryTierName, ReasonDependency)
	}
	return removed
}
