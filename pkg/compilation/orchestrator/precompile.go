package orchestrator

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/cache"
	"github.com/platinummonkey/webcompile/pkg/compilation/config"
	"github.com/platinummonkey/webcompile/pkg/compilation/guard"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"
)

// alwaysExcluded are top-level directories never compiled by a site walk
var alwaysExcluded = []string{
	config.BinDirectory,
	"resources",
	"themes",
	"_vti_cnf",
	"app_globalresources",
	"app_themes",
	"app_data",
	"app_browsers",
}

// PrecompiledMarker is written to the root of a precompiled site
type PrecompiledMarker struct {
	Version       int       `yaml:"version"`
	Updatable     bool      `yaml:"updatable"`
	ForDeployment bool      `yaml:"for_deployment"`
	CreatedAt     time.Time `yaml:"created_at"`
	Assemblies    []string  `yaml:"assemblies"`
}

// Precompile compiles every unit of the site. The cache chain must hold a
// writable disk tier rooted at <target>/bin; every result stored during the
// run lands there together with its assembly. All errors are collected.
// On success the precompiled marker is written. When anything fails the
// target directory is removed, and compile errors are returned as a
// *compilation.ErrorList.
func (m *BuildManager) Precompile(ctx context.Context, opts PrecompileOptions) (err error) {
	if opts.Target == "" {
		return ErrNoTarget
	}
	target, err := filepath.Abs(opts.Target)
	if err != nil {
		return fmt.Errorf("failed to resolve precompilation target: %w", err)
	}
	if m.deps.Directories == nil {
		return fmt.Errorf("%w: directory enumerator is required to precompile", ErrMissingDependency)
	}
	bin := m.targetTier(target)
	if bin == nil {
		return fmt.Errorf("%w: %s", ErrNoTargetTier, filepath.Join(target, config.BinDirectory))
	}

	ctx, span := tracer.Start(ctx, "Precompile",
		trace.WithAttributes(
			attribute.String("target", target),
			attribute.Bool("for_deployment", opts.ForDeployment),
		),
	)
	defer span.End()

	sess := guard.NewPrecompileSession()
	m.lock.Acquire(sess)
	defer m.lock.Release(sess)

	m.setStableNames(opts.ForDeployment)
	defer m.setStableNames(false)

	log := m.logger.WithFields(logrus.Fields{
		"target":  target,
		"session": sess.ID,
	})
	log.Info("Precompiling site")

	defer func() {
		if err == nil {
			return
		}
		if rmErr := os.RemoveAll(target); rmErr != nil {
			log.WithError(rmErr).Warn("Failed to remove precompilation target")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "precompilation failed")
	}()

	var errs compilation.ErrorList
	errs.Add(m.ensureTopLevel(ctx, sess))
	errs.Add(m.precompileDirectory(ctx, sess, compilation.AppRoot, m.excludedDirectories(opts), target))
	if errs.Len() > 0 {
		log.WithField("errors", errs.Len()).Error("Precompilation failed")
		return &errs
	}

	assemblies, err := listAssemblies(bin.Dir())
	if err != nil {
		return err
	}

	marker := PrecompiledMarker{
		Version:       1,
		ForDeployment: opts.ForDeployment,
		CreatedAt:     time.Now().UTC(),
		Assemblies:    assemblies,
	}
	data, err := yaml.Marshal(&marker)
	if err != nil {
		return fmt.Errorf("failed to encode precompiled marker: %w", err)
	}
	if err := os.WriteFile(filepath.Join(target, config.PrecompiledMarkerFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write precompiled marker: %w", err)
	}

	span.SetAttributes(attribute.Int("assemblies", len(assemblies)))
	log.WithField("assemblies", len(assemblies)).Info("Precompilation finished")
	return nil
}

// targetTier returns the writable disk tier rooted at <target>/bin
func (m *BuildManager) targetTier(target string) *cache.DiskTier {
	bin := filepath.Join(target, config.BinDirectory)
	for _, t := range m.deps.Cache.Tiers() {
		if d, ok := t.(*cache.DiskTier); ok && !d.ReadOnly() && filepath.Clean(d.Dir()) == bin {
			return d
		}
	}
	return nil
}

func (m *BuildManager) setStableNames(stable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stableNames = stable
}

// excludedDirectories returns the lower-cased top-level directory names
// skipped by the site walk
func (m *BuildManager) excludedDirectories(opts PrecompileOptions) map[string]bool {
	excluded := make(map[string]bool)
	for _, name := range alwaysExcluded {
		excluded[name] = true
	}
	for _, dir := range m.cfg.CodeDirectories {
		excluded[strings.ToLower(compilation.TopLevelDirectory(dir))] = true
	}
	for _, dir := range opts.Excluded {
		excluded[strings.ToLower(compilation.TopLevelDirectory(dir))] = true
	}
	return excluded
}

func (m *BuildManager) precompileDirectory(ctx context.Context, sess *guard.Session, dir string, excluded map[string]bool, target string) error {
	var errs compilation.ErrorList
	if _, err := m.batchCompileDirectory(ctx, sess, dir, false); err != nil {
		errs.Add(err)
	}

	subdirs, err := m.deps.Directories.ListSubdirectories(dir)
	if err != nil {
		errs.Add(fmt.Errorf("failed to list subdirectories of %s: %w", dir, err))
		return errs.Err()
	}
	for _, sub := range subdirs {
		if dir == compilation.AppRoot && excluded[strings.ToLower(compilation.Name(sub))] {
			continue
		}
		if m.deps.PathMapper != nil && filepath.Clean(m.deps.PathMapper.MapPath(sub)) == target {
			continue
		}
		errs.Add(m.precompileDirectory(ctx, sess, sub, excluded, target))
	}
	return errs.Err()
}

// listAssemblies returns the assemblies below dir that are not marked for
// deletion, relative to dir
func listAssemblies(dir string) ([]string, error) {
	var assemblies []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), cache.AssemblyExtension) || cache.IsMarked(path) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		assemblies = append(assemblies, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list precompiled assemblies: %w", err)
	}
	return assemblies, nil
}
