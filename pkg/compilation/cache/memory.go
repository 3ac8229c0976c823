package cache

import (
	"context"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/webcompile/pkg/compilation/buildresult"
)

// MemoryTierName is the name of the memory tier
const MemoryTierName = "memory"

// MemoryTier is the in-process tier. Results backed by loaded assemblies
// are pinned: they are never evicted by size or age because the assembly
// cannot be unloaded anyway; they only leave through explicit removal.
// Compile errors and no-compile results are transient and expire.
//
// Reads are lock-free. Writers hold the mutex, which also guards the
// assembly and dependency indexes used for cascading removal.
type MemoryTier struct {
	config *MemoryConfig

	pinned    sync.Map // key -> *buildresult.Result
	errors    *lru.LRU[string, *buildresult.Result]
	noCompile *lru.LRU[string, *buildresult.Result]

	mu           sync.Mutex // serializes writers
	byAssembly   map[string]map[string]struct{}
	byDependency map[string]map[string]struct{}

	metrics *metrics
}

// NewMemoryTier creates a memory tier
func NewMemoryTier(cfg *MemoryConfig) *MemoryTier {
	if cfg == nil {
		cfg = DefaultMemoryConfig()
	}
	maxEntries := cfg.MaxTransientEntries
	if maxEntries < 10 {
		maxEntries = 10 // Minimum 10 entries
	}

	return &MemoryTier{
		config:       cfg,
		errors:       lru.NewLRU[string, *buildresult.Result](maxEntries, nil, cfg.ErrorTTL),
		noCompile:    lru.NewLRU[string, *buildresult.Result](maxEntries, nil, cfg.NoCompileTTL),
		byAssembly:   make(map[string]map[string]struct{}),
		byDependency: make(map[string]map[string]struct{}),
		metrics:      newMetrics(),
	}
}

// Name implements Tier
func (m *MemoryTier) Name() string {
	return MemoryTierName
}

// Get implements Tier
func (m *MemoryTier) Get(ctx context.Context, key string) (*buildresult.Result, error) {
	if key == "" {
		return nil, ErrInvalidCacheKey
	}

	if v, ok := m.pinned.Load(key); ok {
		m.metrics.recordHit()
		return v.(*buildresult.Result), nil
	}
	if r, ok := m.errors.Get(key); ok {
		m.metrics.recordHit()
		return r, nil
	}
	if r, ok := m.noCompile.Get(key); ok {
		m.metrics.recordHit()
		return r, nil
	}

	m.metrics.recordMiss()
	return nil, ErrCacheMiss
}

// Put implements Tier. A new result for a key replaces whatever variant was
// cached before.
func (m *MemoryTier) Put(ctx context.Context, key string, result *buildresult.Result) error {
	if key == "" {
		return ErrInvalidCacheKey
	}
	if !result.CacheToMemory() {
		return ErrNotCacheable
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeKeyLocked(key)

	switch result.Kind() {
	case buildresult.KindCompileError:
		m.errors.Add(key, result)
	case buildresult.KindNoCompile:
		m.noCompile.Add(key, result)
	case buildresult.KindCompiledAssembly, buildresult.KindCompiledType,
		buildresult.KindCustomString, buildresult.KindCodeCompileUnit:
		m.pinned.Store(key, result)
		m.indexLocked(key, result)
	default:
		return ErrNotCacheable
	}
	return nil
}

// Remove implements Tier
func (m *MemoryTier) Remove(ctx context.Context, key string) error {
	m.removeKey(key)
	return nil
}

func (m *MemoryTier) removeKey(key string) *buildresult.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeKeyLocked(key)
}

func (m *MemoryTier) removeKeyLocked(key string) *buildresult.Result {
	var removed *buildresult.Result
	if v, ok := m.pinned.LoadAndDelete(key); ok {
		removed = v.(*buildresult.Result)
		m.unindexLocked(key, removed)
	}
	if r, ok := m.errors.Peek(key); ok {
		m.errors.Remove(key)
		if removed == nil {
			removed = r
		}
	}
	if r, ok := m.noCompile.Peek(key); ok {
		m.noCompile.Remove(key)
		if removed == nil {
			removed = r
		}
	}
	return removed
}

func (m *MemoryTier) indexLocked(key string, r *buildresult.Result) {
	names := r.References()
	if asm := r.Assembly().Name; asm != "" {
		names = append(names, asm)
	}
	for _, name := range names {
		addToIndex(m.byAssembly, name, key)
	}
	for _, dep := range r.Dependencies() {
		addToIndex(m.byDependency, dep, key)
	}
}

func (m *MemoryTier) unindexLocked(key string, r *buildresult.Result) {
	names := r.References()
	if asm := r.Assembly().Name; asm != "" {
		names = append(names, asm)
	}
	for _, name := range names {
		removeFromIndex(m.byAssembly, name, key)
	}
	for _, dep := range r.Dependencies() {
		removeFromIndex(m.byDependency, dep, key)
	}
}

// RemoveAssembly removes every result built into or compiled against the
// named assembly, then cascades to the assemblies of the removed results.
// It returns the removed keys.
func (m *MemoryTier) RemoveAssembly(name string) []string {
	var removedKeys []string
	visited := map[string]bool{}
	queue := []string{name}

	for len(queue) > 0 {
		asm := queue[0]
		queue = queue[1:]
		if asm == "" || visited[asm] {
			continue
		}
		visited[asm] = true

		for _, key := range m.keysFor(m.byAssembly, asm) {
			r := m.removeKey(key)
			if r == nil {
				continue
			}
			removedKeys = append(removedKeys, key)
			queue = append(queue, r.Assembly().Name)
		}
	}
	return removedKeys
}

// RemoveDependency removes every result depending on the given virtual path
// and returns the removed results keyed by cache key
func (m *MemoryTier) RemoveDependency(vpath string) map[string]*buildresult.Result {
	removed := make(map[string]*buildresult.Result)
	for _, key := range m.keysFor(m.byDependency, vpath) {
		if r := m.removeKey(key); r != nil {
			removed[key] = r
		}
	}

	// Transient entries are not indexed
	for _, lru := range []*lru.LRU[string, *buildresult.Result]{m.errors, m.noCompile} {
		for _, key := range lru.Keys() {
			r, ok := lru.Peek(key)
			if !ok {
				continue
			}
			for _, dep := range r.Dependencies() {
				if dep == vpath {
					lru.Remove(key)
					removed[key] = r
					break
				}
			}
		}
	}
	return removed
}

func (m *MemoryTier) keysFor(index map[string]map[string]struct{}, name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := index[name]
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return keys
}

// Purge drops every entry
func (m *MemoryTier) Purge() {
	m.pinned.Range(func(k, _ any) bool {
		m.pinned.Delete(k)
		return true
	})
	m.errors.Purge()
	m.noCompile.Purge()

	m.mu.Lock()
	m.byAssembly = make(map[string]map[string]struct{})
	m.byDependency = make(map[string]map[string]struct{})
	m.mu.Unlock()
}

// Keys returns the keys of every cached entry
func (m *MemoryTier) Keys() []string {
	var keys []string
	m.pinned.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	keys = append(keys, m.errors.Keys()...)
	keys = append(keys, m.noCompile.Keys()...)
	return keys
}

// Stats returns tier statistics
func (m *MemoryTier) Stats() Stats {
	var pinned int64
	m.pinned.Range(func(_, _ any) bool {
		pinned++
		return true
	})

	m.mu.Lock()
	assemblies := int64(len(m.byAssembly))
	m.mu.Unlock()

	stats := Stats{
		Hits:       m.metrics.getHits(),
		Misses:     m.metrics.getMisses(),
		Pinned:     pinned,
		Errors:     int64(m.errors.Len()),
		NoCompile:  int64(m.noCompile.Len()),
		Assemblies: assemblies,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

func addToIndex(index map[string]map[string]struct{}, name, key string) {
	set, ok := index[name]
	if !ok {
		set = make(map[string]struct{})
		index[name] = set
	}
	set[key] = struct{}{}
}

func removeFromIndex(index map[string]map[string]struct{}, name, key string) {
	set, ok := index[name]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(index, name)
	}
}

// metrics tracks cache metrics
type metrics struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func newMetrics() *metrics {
	return &metrics{}
}

func (m *metrics) recordHit() {
	m.hits.Add(1)
}

func (m *metrics) recordMiss() {
	m.misses.Add(1)
}

func (m *metrics) getHits() int64 {
	return m.hits.Load()
}

func (m *metrics) getMisses() int64 {
	return m.misses.Load()
}
