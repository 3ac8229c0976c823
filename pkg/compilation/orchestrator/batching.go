package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/assembly"
	"github.com/platinummonkey/webcompile/pkg/compilation/batch"
	"github.com/platinummonkey/webcompile/pkg/compilation/buildresult"
	"github.com/platinummonkey/webcompile/pkg/compilation/guard"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// batchRun tracks one batch through generation, compilation and caching
type batchRun struct {
	batch        *batch.Batch
	base         string
	name         string
	baseAssembly string

	builder   *assembly.Builder
	outcome   *assembly.Outcome
	parseErrs map[compilation.Handle]error
	err       error
	started   time.Time
}

// BatchCompileDirectory compiles every unit of dir that is not cached yet.
// It runs at most once per directory per session and reports whether any
// assembly was produced. With ignoreErrors set, failures are logged and
// left for the units to surface when requested individually; a
// precompiling session never ignores errors.
func (m *BuildManager) BatchCompileDirectory(ctx context.Context, sess *guard.Session, dir string, ignoreErrors bool) (bool, error) {
	dir = compilation.CleanPath(dir)
	ctx, span := tracer.Start(ctx, "BatchCompileDirectory",
		trace.WithAttributes(attribute.String("directory", dir)),
	)
	defer span.End()

	if sess == nil {
		sess = guard.NewSession()
	}

	compiled, err := m.batchCompileDirectory(ctx, sess, dir, ignoreErrors)
	span.SetAttributes(attribute.Bool("compiled", compiled))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "directory batch failed")
	}
	return compiled, err
}

func (m *BuildManager) batchCompileDirectory(ctx context.Context, sess *guard.Session, dir string, ignoreErrors bool) (bool, error) {
	if sess.Precompiling() {
		ignoreErrors = false
	}
	if m.deps.Directories == nil {
		return false, nil
	}

	m.lock.Acquire(sess)
	defer m.lock.Release(sess)

	if !sess.MarkDirectory(dir) {
		return false, nil
	}
	if err := m.ensureTopLevel(ctx, sess); err != nil {
		return false, err
	}

	log := m.logger.WithFields(logrus.Fields{
		"directory": dir,
		"session":   sess.ID,
	})

	var errs compilation.ErrorList
	units, err := m.collectUnits(ctx, sess, dir, &errs)
	if err != nil {
		return false, err
	}
	if len(units) == 0 {
		return false, m.batchErr(log, &errs, ignoreErrors)
	}

	levels, err := batch.Levels(units)
	if err != nil {
		return false, err
	}

	kept := make(map[compilation.Handle]bool, len(units))
	for _, u := range batch.ApplySkipPolicy(units) {
		kept[u.Handle] = true
	}

	refs := m.initialReferences()
	inDir := make(map[string]bool, len(units))
	for _, u := range units {
		inDir[u.VirtualPath] = true
	}
	for _, u := range units {
		if !kept[u.Handle] {
			continue
		}
		external := externalDependencies(u, inDir)
		if len(external) == 0 {
			continue
		}
		depRefs, err := m.buildDependencies(ctx, sess, &compilation.BuildUnit{VirtualPath: u.VirtualPath, DependsOn: external})
		if err != nil {
			errs.Add(err)
			delete(kept, u.Handle)
			continue
		}
		refs = append(refs, depRefs...)
	}

	limits := batch.Limits{
		MaxFiles:        m.cfg.MaxBatchSize,
		MaxBytes:        m.cfg.MaxBatchGeneratedFileSize,
		DefaultLanguage: m.cfg.DefaultLanguage,
	}
	base := compilation.AssemblyBaseForDirectory(dir)

	compiled := false
	seq := 0
	for i, level := range levels {
		var todo []*compilation.BuildUnit
		for _, u := range level {
			if kept[u.Handle] {
				todo = append(todo, u)
			}
		}
		if len(todo) == 0 {
			continue
		}

		batches := batch.Group(todo, limits)
		log.WithFields(logrus.Fields{
			"level":   i,
			"units":   len(todo),
			"batches": len(batches),
		}).Debug("Compiling directory level")

		runs := m.compileBatches(ctx, sess, base, seq, batches, refs)
		seq += len(batches)

		for _, run := range runs {
			if asm, ok := m.cacheRun(ctx, sess, run, &errs); ok {
				compiled = true
				refs = append(refs, asm.Path)
			}
		}
	}

	return compiled, m.batchErr(log, &errs, ignoreErrors)
}

func (m *BuildManager) batchErr(log *logrus.Entry, errs *compilation.ErrorList, ignoreErrors bool) error {
	if errs.Len() == 0 {
		return nil
	}
	if ignoreErrors {
		log.WithField("errors", errs.Len()).Debug("Ignoring directory batch errors")
		return nil
	}
	return errs.Err()
}

func externalDependencies(u *compilation.BuildUnit, inDir map[string]bool) []string {
	var external []string
	for _, dep := range u.DependsOn {
		dep = compilation.CleanPath(dep)
		if dep != u.VirtualPath && !inDir[dep] {
			external = append(external, dep)
		}
	}
	return external
}

// collectUnits resolves the files of dir that need compiling and assigns
// their handles. Units that need no compiler are cached right away.
func (m *BuildManager) collectUnits(ctx context.Context, sess *guard.Session, dir string, errs *compilation.ErrorList) ([]*compilation.BuildUnit, error) {
	files, err := m.deps.Directories.ListFiles(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", compilation.ErrNotFound, dir)
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	arena := compilation.NewArena()
	var units []*compilation.BuildUnit
	for _, f := range files {
		f = compilation.CleanPath(f)
		if m.isTopLevelUnit(f) {
			continue
		}
		if _, hit, err := m.lookup(ctx, f, true); hit {
			errs.Add(err)
			continue
		}

		u, err := m.deps.Resolver.Resolve(ctx, f)
		if err != nil {
			if !errors.Is(err, compilation.ErrNotFound) {
				errs.Add(err)
			}
			continue
		}

		switch u.Output {
		case compilation.OutputNoCompile, compilation.OutputCodeUnit:
			m.store(ctx, sess, compilation.CacheKey(u.VirtualPath), m.resultFor(u, nil, false), time.Now())
			continue
		}

		arena.Add(u)
		units = append(units, u)
	}
	return units, nil
}

// compileBatches generates every batch serially and compiles them in
// parallel. Batches whose output was locked are regenerated under a fresh
// name, up to MaxLockedOutputRetries times. The returned runs are in batch
// order.
func (m *BuildManager) compileBatches(ctx context.Context, sess *guard.Session, base string, seq int, batches []*batch.Batch, refs []string) []*batchRun {
	runs := make([]*batchRun, len(batches))
	for i, b := range batches {
		name := base
		if seq+i > 0 {
			name = fmt.Sprintf("%s_%d", base, seq+i)
		}
		if b.Culture != "" {
			name = fmt.Sprintf("%s_%s", name, b.Culture)
		}
		runs[i] = &batchRun{batch: b, base: name}
	}

	pending := runs
	for attempt := 0; len(pending) > 0; attempt++ {
		random := attempt > 0 || m.randomNames(sess)
		for _, run := range pending {
			run.name = compilation.AssemblyName(run.base, random)
		}
		neutral := ""
		for _, run := range runs {
			if run.batch.Culture == "" && run.name != "" {
				neutral = run.name
				break
			}
		}

		for _, run := range pending {
			if run.batch.Culture != "" {
				run.baseAssembly = neutral
			}
			m.generate(ctx, run, refs)
		}

		g := new(errgroup.Group)
		g.SetLimit(m.cfg.MaxConcurrency)
		for _, run := range pending {
			run.outcome, run.err = nil, nil
			if len(run.builder.Units()) == 0 {
				continue
			}
			g.Go(func() error {
				run.outcome, run.err = run.builder.Compile(ctx)
				return nil
			})
		}
		_ = g.Wait()

		var locked []*batchRun
		for _, run := range pending {
			m.record(ctx, sess, run)
			if !errors.Is(run.err, compilation.ErrOutputLocked) {
				continue
			}
			m.recordRecompilation("compiler output locked")
			if attempt < m.cfg.MaxLockedOutputRetries {
				locked = append(locked, run)
			}
		}
		pending = locked
	}
	return runs
}

// generate creates the run's builder and adds every unit of the batch.
// Units whose generator fails are remembered and left out.
func (m *BuildManager) generate(ctx context.Context, run *batchRun, refs []string) {
	language := run.batch.Language
	if language == "" {
		language = m.cfg.DefaultLanguage
	}

	run.started = time.Now()
	run.parseErrs = make(map[compilation.Handle]error)
	run.builder = assembly.NewBuilder(assembly.Options{
		Language:           language,
		Culture:            run.batch.Culture,
		CodegenDir:         m.cfg.CodegenDir,
		OutputName:         run.name,
		BaseAssembly:       run.baseAssembly,
		InitialReferences:  refs,
		MaxFiles:           m.cfg.MaxBatchSize,
		MaxBytes:           m.cfg.MaxBatchGeneratedFileSize,
		CompilerOptions:    m.cfg.CompilerOptions,
		Compiler:           m.deps.Compiler,
		KeepGeneratedFiles: m.cfg.KeepGeneratedFiles,
		Logger:             m.logger,
	})

	for _, u := range run.batch.Units {
		if err := run.builder.AddUnit(ctx, u); err != nil {
			m.logger.WithFields(logrus.Fields{
				"path":  u.VirtualPath,
				"error": err,
			}).Info("Code generation failed")
			run.parseErrs[u.Handle] = err
		}
	}
}

// cacheRun caches the results of one compiled batch and collects its
// errors. Units a failed compilation could not be blamed on stay uncached
// so they are compiled individually later.
func (m *BuildManager) cacheRun(ctx context.Context, sess *guard.Session, run *batchRun, errs *compilation.ErrorList) (compilation.Assembly, bool) {
	for _, u := range run.batch.Units {
		if perr, ok := run.parseErrs[u.Handle]; ok {
			errs.Add(perr)
		}
	}
	if run.builder == nil || len(run.builder.Units()) == 0 {
		return compilation.Assembly{}, false
	}

	if run.err == nil && run.outcome != nil && run.outcome.Succeeded() {
		delayLoad := m.cfg.DelayLoadTypes
		for _, u := range run.outcome.Units {
			m.store(ctx, sess, compilation.CacheKey(u.VirtualPath), m.resultFor(u, run.outcome, delayLoad), run.started)
		}
		return run.outcome.Assembly, true
	}

	var ce *compilation.CompileError
	if errors.As(run.err, &ce) && run.outcome != nil {
		for _, u := range run.outcome.Units {
			uce, ok := run.outcome.ErrorFor(u.Handle)
			if !ok {
				continue
			}
			m.store(ctx, sess, compilation.CacheKey(u.VirtualPath), buildresult.NewCompileError(u.VirtualPath, uce, u.Dependencies()), run.started)
			errs.Add(uce)
		}
		if len(run.outcome.Unattributed) > 0 {
			errs.Add(compilation.NewCompileError(run.name, run.outcome.Unattributed))
		}
		return compilation.Assembly{}, false
	}

	errs.Add(fmt.Errorf("batch %s: %w", run.name, run.err))
	return compilation.Assembly{}, false
}

// record reports a finished compiler invocation to metrics and history
func (m *BuildManager) record(ctx context.Context, sess *guard.Session, run *batchRun) {
	if run.builder == nil || len(run.builder.Units()) == 0 {
		return
	}

	language := run.batch.Language
	if language == "" {
		language = m.cfg.DefaultLanguage
	}
	success := run.err == nil && run.outcome != nil && run.outcome.Succeeded()

	var duration time.Duration
	var diags []compilation.Diagnostic
	if run.outcome != nil {
		duration = run.outcome.Duration
		diags = run.outcome.Diagnostics
	}
	m.deps.Observer.CompileFinished(language, len(run.builder.Units()), success, duration)

	if m.deps.History == nil {
		return
	}

	units := make([]string, 0, len(run.builder.Units()))
	for _, u := range run.builder.Units() {
		units = append(units, u.VirtualPath)
	}
	sort.Strings(units)

	errCount := 0
	for _, d := range diags {
		if d.Severity == compilation.SeverityError {
			errCount++
		}
	}
	if !success && errCount == 0 && run.err != nil {
		errCount = 1
	}

	rec := &BuildRecord{
		ID:          uuid.NewString(),
		Assembly:    run.name,
		Language:    language,
		Culture:     run.batch.Culture,
		Units:       units,
		Success:     success,
		Errors:      errCount,
		Diagnostics: diags,
		Precompile:  sess.Precompiling(),
		StartedAt:   run.started,
		Duration:    duration,
	}
	if err := m.deps.History.RecordBuild(ctx, rec); err != nil {
		m.logger.WithError(err).WithField("assembly", run.name).Warn("Failed to record build history")
	}
}

// randomNames reports whether assembly names get a random suffix
func (m *BuildManager) randomNames(sess *guard.Session) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !(sess.Precompiling() && m.stableNames)
}
