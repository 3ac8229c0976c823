package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/assembly"
	"github.com/platinummonkey/webcompile/pkg/compilation/batch"
	"github.com/platinummonkey/webcompile/pkg/compilation/buildresult"
	"github.com/platinummonkey/webcompile/pkg/compilation/cache"
	"github.com/platinummonkey/webcompile/pkg/compilation/config"
	"github.com/platinummonkey/webcompile/pkg/compilation/guard"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("webcompile/orchestrator")

type topLevelState int

const (
	topLevelPending topLevelState = iota
	topLevelRunning
	topLevelDone
)

// BuildManager drives compilation: it serves results from the cache and
// compiles units, directories and whole sites on a miss. There is one
// build manager per process.
type BuildManager struct {
	cfg      Config
	deps     Deps
	lock     *guard.Lock
	recycler *guard.Recycler
	logger   *logrus.Logger

	mu          sync.RWMutex
	topLevel    topLevelState
	topLevelErr error
	topRefs     []string
	precompiled bool
	stableNames bool
}

// New creates a build manager
func New(cfg Config, deps Deps) (*BuildManager, error) {
	if deps.Resolver == nil || deps.Compiler == nil || deps.Cache == nil {
		return nil, fmt.Errorf("%w: resolver, compiler and cache are required", ErrMissingDependency)
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = config.DefaultMaxConcurrency
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = config.DefaultLanguage
	}
	if cfg.MaxLockedOutputRetries < 0 {
		cfg.MaxLockedOutputRetries = 0
	}

	return &BuildManager{
		cfg:      cfg,
		deps:     deps,
		lock:     guard.NewLock(deps.Observer.LockWait),
		recycler: guard.NewRecycler(cfg.MaxRecompilations),
		logger:   deps.Logger,
	}, nil
}

// Config returns the effective configuration
func (m *BuildManager) Config() Config {
	return m.cfg
}

// Cache returns the result cache
func (m *BuildManager) Cache() *cache.Chain {
	return m.deps.Cache
}

// IsPrecompiled reports whether the application was detected as precompiled
func (m *BuildManager) IsPrecompiled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.precompiled
}

// GetOrBuild returns the result for vpath, compiling it on a cache miss.
// A cached or fresh compile failure is returned as *compilation.CompileError.
// A nil session starts a new call chain.
func (m *BuildManager) GetOrBuild(ctx context.Context, sess *guard.Session, vpath string) (*buildresult.Result, error) {
	vpath = compilation.CleanPath(vpath)
	ctx, span := tracer.Start(ctx, "GetOrBuild",
		trace.WithAttributes(attribute.String("vpath", vpath)),
	)
	defer span.End()

	if sess == nil {
		sess = guard.NewSession()
	}

	r, err := m.getOrBuild(ctx, sess, vpath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("kind", r.Kind().String()))
	return r, nil
}

func (m *BuildManager) getOrBuild(ctx context.Context, sess *guard.Session, vpath string) (*buildresult.Result, error) {
	if r, hit, err := m.lookup(ctx, vpath, true); hit {
		return r, err
	}

	if m.IsPrecompiled() {
		return nil, fmt.Errorf("%w: %s", ErrNotPrecompiled, vpath)
	}

	unit, err := m.deps.Resolver.Resolve(ctx, vpath)
	if err != nil {
		return nil, err
	}

	m.lock.Acquire(sess)
	defer m.lock.Release(sess)

	if r, hit, err := m.lookup(ctx, vpath, true); hit {
		return r, err
	}

	if err := sess.Enter(vpath); err != nil {
		return nil, err
	}
	defer sess.Leave(vpath)

	if err := m.ensureTopLevel(ctx, sess); err != nil {
		return nil, err
	}

	if m.cfg.Batch && m.deps.Directories != nil && !m.isTopLevelUnit(vpath) {
		dir := compilation.Parent(vpath)
		if _, err := m.batchCompileDirectory(ctx, sess, dir, true); err != nil {
			m.logger.WithFields(logrus.Fields{
				"directory": dir,
				"error":     err,
			}).Debug("Directory batch failed, compiling unit alone")
		}
		if r, hit, err := m.lookup(ctx, vpath, true); hit {
			return r, err
		}
	}

	return m.compileUnit(ctx, sess, unit, m.initialReferences(), 0)
}

// GetOrBuildNoCompile returns the cached result without compiling and
// without revalidating dependencies. A miss returns nil and no error.
func (m *BuildManager) GetOrBuildNoCompile(ctx context.Context, vpath string) (*buildresult.Result, error) {
	r, _, err := m.lookup(ctx, compilation.CleanPath(vpath), false)
	return r, err
}

// Peek reports whether a usable result is cached for vpath
func (m *BuildManager) Peek(ctx context.Context, vpath string) (*buildresult.Result, bool) {
	r, err := m.GetOrBuildNoCompile(ctx, vpath)
	return r, r != nil && err == nil
}

func (m *BuildManager) lookup(ctx context.Context, vpath string, ensureUpToDate bool) (*buildresult.Result, bool, error) {
	return m.lookupKey(ctx, compilation.CacheKey(vpath), vpath, ensureUpToDate)
}

// lookupKey reports a cached compile error as a hit carrying the error
func (m *BuildManager) lookupKey(ctx context.Context, key, vpath string, ensureUpToDate bool) (*buildresult.Result, bool, error) {
	r, err := m.deps.Cache.Get(ctx, cache.Lookup{
		Key:            key,
		VirtualPath:    vpath,
		EnsureUpToDate: ensureUpToDate,
	})
	if err == nil {
		return r, true, nil
	}
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, false, nil
	}
	var ce *compilation.CompileError
	if errors.As(err, &ce) {
		return nil, true, err
	}
	return nil, false, err
}

// isTopLevelUnit reports whether vpath is compiled by EnsureTopLevelFilesCompiled
func (m *BuildManager) isTopLevelUnit(vpath string) bool {
	if m.cfg.GlobalFile != "" && compilation.CleanPath(m.cfg.GlobalFile) == vpath {
		return true
	}
	for _, dir := range m.cfg.CodeDirectories {
		if compilation.IsWithin(vpath, dir) {
			return true
		}
	}
	return false
}

// initialReferences are the assemblies every builder compiles against
func (m *BuildManager) initialReferences() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	refs := make([]string, 0, len(m.cfg.References)+len(m.topRefs))
	refs = append(refs, m.cfg.References...)
	return append(refs, m.topRefs...)
}

// buildDependencies builds the units unit depends on and returns their
// assembly paths
func (m *BuildManager) buildDependencies(ctx context.Context, sess *guard.Session, unit *compilation.BuildUnit) ([]string, error) {
	var refs []string
	for _, dep := range unit.DependsOn {
		dep = compilation.CleanPath(dep)
		if dep == unit.VirtualPath {
			continue
		}
		r, err := m.GetOrBuild(ctx, sess, dep)
		if err != nil {
			return nil, fmt.Errorf("dependency %s of %s: %w", dep, unit.VirtualPath, err)
		}
		if asm := r.Assembly(); asm.Path != "" {
			refs = append(refs, asm.Path)
		}
	}
	return refs, nil
}

// compileUnit compiles a single unit into its own assembly and caches the
// outcome
func (m *BuildManager) compileUnit(ctx context.Context, sess *guard.Session, unit *compilation.BuildUnit, refs []string, flags buildresult.Flags) (*buildresult.Result, error) {
	key := compilation.CacheKey(unit.VirtualPath)

	switch unit.Output {
	case compilation.OutputNoCompile, compilation.OutputCodeUnit:
		return m.store(ctx, sess, key, m.resultFor(unit, nil, false), time.Now()), nil
	}

	depRefs, err := m.buildDependencies(ctx, sess, unit)
	if err != nil {
		return nil, err
	}
	refs = append(refs, depRefs...)

	if unit.Handle == compilation.NoHandle {
		compilation.NewArena().Add(unit)
	}
	b := &batch.Batch{
		Language: unit.Language,
		Culture:  unit.Culture,
		Units:    []*compilation.BuildUnit{unit},
	}
	run := m.compileBatches(ctx, sess, compilation.AssemblyBaseForDirectory(unit.VirtualPath), 0, []*batch.Batch{b}, refs)[0]

	if perr, ok := run.parseErrs[unit.Handle]; ok {
		return nil, perr
	}
	if run.err != nil {
		var ce *compilation.CompileError
		if !errors.As(run.err, &ce) {
			return nil, run.err
		}
		if run.outcome != nil {
			if uce, ok := run.outcome.ErrorFor(unit.Handle); ok {
				ce = uce
			}
		}
		m.store(ctx, sess, key, buildresult.NewCompileError(unit.VirtualPath, ce, unit.Dependencies()), run.started)
		return nil, ce
	}

	r := m.resultFor(unit, run.outcome, false)
	if flags != 0 {
		r.SetFlags(flags)
	}
	return m.store(ctx, sess, key, r, run.started), nil
}

// resultFor converts a unit and its compile outcome into a build result
func (m *BuildManager) resultFor(unit *compilation.BuildUnit, outcome *assembly.Outcome, delayLoad bool) *buildresult.Result {
	deps := unit.Dependencies()

	var asm compilation.Assembly
	var opts []buildresult.Option
	if outcome != nil {
		asm = outcome.Assembly
		opts = append(opts, buildresult.WithReferences(outcome.ReferenceNames()...))
	}

	switch unit.Output {
	case compilation.OutputType:
		if delayLoad {
			opts = append(opts, buildresult.WithFlags(buildresult.FlagDelayLoad))
		}
		return buildresult.NewCompiledType(unit.VirtualPath, asm, unit.TypeName, deps, opts...)
	case compilation.OutputCustomString:
		return buildresult.NewCustomString(unit.VirtualPath, unit.CustomString, asm, deps, opts...)
	case compilation.OutputCodeUnit:
		return buildresult.NewCodeCompileUnit(unit.VirtualPath, unit.CodeUnit, deps, opts...)
	case compilation.OutputNoCompile:
		return buildresult.NewNoCompile(unit.VirtualPath, deps, opts...)
	default:
		return buildresult.NewCompiledAssembly(unit.VirtualPath, asm, deps, opts...)
	}
}

// store caches a result. A result whose dependencies changed while it was
// built is still returned to the caller but stays uncached. A delay-load
// result is fetched back from the durable tiers so the caller receives the
// loadable form.
func (m *BuildManager) store(ctx context.Context, sess *guard.Session, key string, r *buildresult.Result, utcStart time.Time) *buildresult.Result {
	log := m.logger.WithFields(logrus.Fields{
		"key":  key,
		"path": r.VirtualPath(),
		"kind": r.Kind().String(),
	})

	ok, err := m.deps.Cache.Put(ctx, key, r, utcStart)
	if err != nil {
		log.WithError(err).Warn("Failed to cache build result")
		return r
	}
	if !ok {
		log.WithError(compilation.ErrStaleCacheRace).Info("Build result not cached")
		return r
	}

	if r.HasFlag(buildresult.FlagDelayLoad) && !sess.Precompiling() {
		if fetched, hit, _ := m.lookupKey(ctx, key, r.VirtualPath(), false); hit && fetched != nil {
			r = fetched
		} else {
			r.ClearFlags(buildresult.FlagDelayLoad)
			if _, err := m.deps.Cache.Put(ctx, key, r, utcStart); err != nil {
				log.WithError(err).Warn("Failed to cache loaded build result")
			}
		}
	}

	if m.deps.Watcher != nil && r.CacheToMemory() && m.deps.Watcher.Watch(key, r) {
		// a change landing before the watches existed raised no event
		if !r.StillValid(m.deps.Source, utcStart) {
			log.WithError(compilation.ErrStaleCacheRace).Info("Dependencies changed before they were watched")
			m.deps.Cache.Discard(ctx, key)
			return r
		}
		r.SetFlags(buildresult.FlagWatched)
	}
	return r
}
