package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/batch"
	"github.com/platinummonkey/webcompile/pkg/compilation/buildresult"
	"github.com/platinummonkey/webcompile/pkg/compilation/config"
	"github.com/platinummonkey/webcompile/pkg/compilation/fingerprint"
	"github.com/platinummonkey/webcompile/pkg/compilation/guard"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

// Initialize prepares the codegen directory for this process. When the
// special files (configuration, code directories, global file) changed
// since the last run every generated file is discarded; otherwise only
// stale temporary files are. It also detects a precompiled application.
func (m *BuildManager) Initialize(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Initialize")
	defer span.End()

	sess := guard.NewSession()
	m.lock.Acquire(sess)
	defer m.lock.Release(sess)

	if m.deps.Source != nil {
		_, err := m.deps.Source.Stat(compilation.Join(compilation.AppRoot, config.PrecompiledMarkerFile))
		m.mu.Lock()
		m.precompiled = err == nil
		m.mu.Unlock()
	}

	if m.deps.Source == nil || m.deps.Codegen == nil || m.deps.Codegen.ReadOnly() {
		return nil
	}

	hash, err := m.specialFilesHash()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to hash special files")
		return err
	}

	stored, err := m.deps.Codegen.ReadHash()
	if err != nil {
		m.logger.WithError(err).Warn("Failed to read special files hash")
	}

	log := m.logger.WithFields(logrus.Fields{
		"codegen": m.deps.Codegen.Dir(),
		"hash":    hash.String(),
	})
	if stored != hash {
		log.WithField("previous", stored.String()).Info("Special files changed, removing generated files")
		if err := m.deps.Codegen.RemoveAllCodegenFiles(); err != nil {
			log.WithError(err).Warn("Failed to remove every generated file")
		}
		if mem := m.deps.Cache.Memory(); mem != nil {
			mem.Purge()
		}
	} else {
		removed, err := m.deps.Codegen.RemoveOldTempFiles(m.cfg.TempFileMaxAge)
		if err != nil {
			log.WithError(err).Warn("Failed to remove old temporary files")
		}
		log.WithField("removed", removed).Debug("Special files unchanged")
	}

	if err := m.deps.Codegen.WriteHash(hash); err != nil {
		return fmt.Errorf("failed to save special files hash: %w", err)
	}
	return nil
}

// specialFilesHash hashes the inputs whose change invalidates every
// generated file
func (m *BuildManager) specialFilesHash() (fingerprint.SpecialFilesHash, error) {
	pre := fingerprint.NewCombiner()
	opts := m.cfg.CompilerOptions
	pre.AddString(strconv.FormatBool(opts.Debug))
	pre.AddInt(int64(opts.WarningLevel))
	for _, flag := range opts.Flags {
		pre.AddString(flag)
	}
	for _, ref := range m.cfg.References {
		pre.AddString(ref)
	}
	for _, f := range m.cfg.ConfigFiles {
		pre.AddFile(m.deps.Source, compilation.CleanPath(f))
	}
	if m.deps.Directories != nil {
		for _, dir := range m.cfg.CodeDirectories {
			if err := pre.AddDirectory(m.deps.Source, m.deps.Directories, compilation.CleanPath(dir)); err != nil {
				return fingerprint.SpecialFilesHash{}, err
			}
		}
	}

	post := fingerprint.NewCombiner()
	if m.cfg.GlobalFile != "" {
		post.AddFile(m.deps.Source, compilation.CleanPath(m.cfg.GlobalFile))
	}

	return fingerprint.SpecialFilesHash{
		PreStart:  pre.Sum(),
		PostStart: post.Sum(),
	}, nil
}

// EnsureTopLevelFilesCompiled compiles the code directories and then the
// global application file, once per process. Their assemblies become
// initial references of every later build. After a failure every call tries
// again: a cached compile error is returned until one of its files changes,
// and then the files are recompiled.
func (m *BuildManager) EnsureTopLevelFilesCompiled(ctx context.Context, sess *guard.Session) error {
	if sess == nil {
		sess = guard.NewSession()
	}
	m.lock.Acquire(sess)
	defer m.lock.Release(sess)
	return m.ensureTopLevel(ctx, sess)
}

// ensureTopLevel must be called with the lock held. A nested call from the
// session compiling the top-level files returns immediately.
func (m *BuildManager) ensureTopLevel(ctx context.Context, sess *guard.Session) error {
	m.mu.Lock()
	switch m.topLevel {
	case topLevelDone:
		if m.topLevelErr == nil {
			m.mu.Unlock()
			return nil
		}
	case topLevelRunning:
		m.mu.Unlock()
		return nil
	}
	m.topLevel = topLevelRunning
	m.mu.Unlock()

	ctx, span := tracer.Start(ctx, "EnsureTopLevelFilesCompiled")
	defer span.End()

	refs, err := m.compileTopLevel(ctx, sess)

	m.mu.Lock()
	m.topLevel = topLevelDone
	m.topRefs = refs
	m.topLevelErr = err
	m.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "top-level compilation failed")
		m.logger.WithError(err).Error("Top-level files failed to compile")
	}
	return err
}

func (m *BuildManager) compileTopLevel(ctx context.Context, sess *guard.Session) ([]string, error) {
	var refs []string
	for _, dir := range m.cfg.CodeDirectories {
		asm, err := m.compileCodeDirectory(ctx, sess, compilation.CleanPath(dir), refs)
		if err != nil {
			return refs, err
		}
		if asm.Path != "" {
			refs = append(refs, asm.Path)
		}
	}

	if m.cfg.GlobalFile == "" {
		return refs, nil
	}
	asm, err := m.compileGlobalFile(ctx, sess, refs)
	if err != nil {
		return refs, err
	}
	if asm.Path != "" {
		refs = append(refs, asm.Path)
	}
	return refs, nil
}

// compileCodeDirectory compiles every file below dir into one assembly,
// cached under the directory's key
func (m *BuildManager) compileCodeDirectory(ctx context.Context, sess *guard.Session, dir string, refs []string) (compilation.Assembly, error) {
	key := compilation.CacheKeyForDirectory(dir)
	if r, hit, err := m.lookupKey(ctx, key, dir, true); hit {
		if err != nil {
			return compilation.Assembly{}, err
		}
		return r.Assembly(), nil
	}
	if m.deps.Directories == nil {
		return compilation.Assembly{}, nil
	}

	files, err := m.listRecursive(dir)
	if err != nil {
		return compilation.Assembly{}, err
	}

	arena := compilation.NewArena()
	var units []*compilation.BuildUnit
	language := ""
	for _, f := range files {
		u, err := m.deps.Resolver.Resolve(ctx, f)
		if err != nil {
			if errors.Is(err, compilation.ErrNotFound) {
				continue
			}
			return compilation.Assembly{}, err
		}
		if u.Language != "" {
			if language == "" {
				language = u.Language
			} else if u.Language != language {
				return compilation.Assembly{}, fmt.Errorf("%w: %s has %s and %s files", ErrMixedLanguages, dir, language, u.Language)
			}
		}
		u.Culture = ""
		arena.Add(u)
		units = append(units, u)
	}
	if len(units) == 0 {
		return compilation.Assembly{}, nil
	}

	deps := append([]string{dir}, files...)
	b := &batch.Batch{Language: language, Units: units}
	initial := append(append([]string(nil), m.cfg.References...), refs...)
	run := m.compileBatches(ctx, sess, "code_"+compilation.AssemblyBaseForDirectory(dir), 0, []*batch.Batch{b}, initial)[0]

	var errs compilation.ErrorList
	for _, u := range units {
		if perr, ok := run.parseErrs[u.Handle]; ok {
			errs.Add(perr)
		}
	}
	if errs.Len() > 0 {
		return compilation.Assembly{}, errs.Err()
	}

	if run.err != nil {
		var ce *compilation.CompileError
		if errors.As(run.err, &ce) {
			ce = compilation.NewCompileError(dir, ce.Diagnostics)
			m.store(ctx, sess, key, buildresult.NewCompileError(dir, ce, deps), run.started)
			return compilation.Assembly{}, ce
		}
		return compilation.Assembly{}, run.err
	}

	r := buildresult.NewCompiledAssembly(dir, run.outcome.Assembly, deps,
		buildresult.WithReferences(run.outcome.ReferenceNames()...),
		buildresult.WithFlags(buildresult.FlagShutdownOnChange),
	)
	m.store(ctx, sess, key, r, run.started)

	m.logger.WithFields(logrus.Fields{
		"directory": dir,
		"assembly":  run.outcome.Assembly.Name,
		"files":     len(units),
	}).Info("Code directory compiled")
	return run.outcome.Assembly, nil
}

// compileGlobalFile compiles the application file against the code
// directory assemblies
func (m *BuildManager) compileGlobalFile(ctx context.Context, sess *guard.Session, refs []string) (compilation.Assembly, error) {
	vpath := compilation.CleanPath(m.cfg.GlobalFile)
	if r, hit, err := m.lookup(ctx, vpath, true); hit {
		if err != nil {
			return compilation.Assembly{}, err
		}
		return r.Assembly(), nil
	}

	unit, err := m.deps.Resolver.Resolve(ctx, vpath)
	if err != nil {
		if errors.Is(err, compilation.ErrNotFound) {
			return compilation.Assembly{}, nil
		}
		return compilation.Assembly{}, err
	}

	initial := append(append([]string(nil), m.cfg.References...), refs...)
	r, err := m.compileUnit(ctx, sess, unit, initial, buildresult.FlagShutdownOnChange)
	if err != nil {
		return compilation.Assembly{}, err
	}
	return r.Assembly(), nil
}

// listRecursive lists every file below dir in sorted order. A missing
// directory has no files.
func (m *BuildManager) listRecursive(dir string) ([]string, error) {
	files, err := m.deps.Directories.ListFiles(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	sort.Strings(files)

	subdirs, err := m.deps.Directories.ListSubdirectories(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list subdirectories of %s: %w", dir, err)
	}
	sort.Strings(subdirs)
	for _, sub := range subdirs {
		nested, err := m.listRecursive(sub)
		if err != nil {
			return nil, err
		}
		files = append(files, nested...)
	}
	return files, nil
}
