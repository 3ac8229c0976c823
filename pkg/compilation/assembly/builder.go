package assembly

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/cache"
	"github.com/sirupsen/logrus"
)

// Builder accumulates units into one compiler invocation. A builder is used
// by a single goroutine and compiles at most once.
type Builder struct {
	opts      Options
	sourceDir string
	logger    *logrus.Logger

	arena     *compilation.Arena
	units     []*compilation.BuildUnit
	sources   []string
	resources []string
	sourceMap map[string]compilation.Handle // source path -> unit
	unitRefs  map[compilation.Handle][]string
	typeNames map[string]struct{}
	size      int64
	fileSeq   int

	compiled bool
}

// NewBuilder creates a builder
func NewBuilder(opts Options) *Builder {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Builder{
		opts:      opts,
		sourceDir: filepath.Join(opts.CodegenDir, "sources_"+opts.OutputName),
		logger:    opts.Logger,
		arena:     compilation.NewArena(),
		sourceMap: make(map[string]compilation.Handle),
		unitRefs:  make(map[compilation.Handle][]string),
		typeNames: make(map[string]struct{}),
	}
}

// OutputName returns the assembly name the builder produces
func (b *Builder) OutputName() string {
	return b.opts.OutputName
}

// OutputPath returns the path of the assembly the builder produces
func (b *Builder) OutputPath() string {
	if b.opts.Culture != "" {
		return filepath.Join(b.opts.CodegenDir, b.opts.Culture, b.opts.OutputName+SatelliteSuffix+cache.AssemblyExtension)
	}
	return filepath.Join(b.opts.CodegenDir, b.opts.OutputName+cache.AssemblyExtension)
}

// Units returns the units added so far
func (b *Builder) Units() []*compilation.BuildUnit {
	return b.units
}

// IsFull reports whether the builder reached its file or size limit
func (b *Builder) IsFull() bool {
	if b.opts.MaxFiles > 0 && len(b.units) >= b.opts.MaxFiles {
		return true
	}
	return b.opts.MaxBytes > 0 && b.size >= b.opts.MaxBytes
}

// HasTypeName reports whether an added unit already declares the type name
func (b *Builder) HasTypeName(name string) bool {
	_, ok := b.typeNames[name]
	return ok
}

// AddUnit runs the unit's generator. A generator failure leaves the builder
// unchanged and is returned as a *compilation.ParseError.
func (b *Builder) AddUnit(ctx context.Context, unit *compilation.BuildUnit) error {
	if b.compiled {
		return ErrAlreadyCompiled
	}
	if unit.Handle == compilation.NoHandle {
		b.arena.Add(unit)
	}
	for _, u := range b.units {
		if u.Handle == unit.Handle || u.VirtualPath == unit.VirtualPath {
			return fmt.Errorf("%w: %s", ErrDuplicateUnit, unit.VirtualPath)
		}
	}

	w := &unitWriter{b: b, unit: unit}
	if unit.Generator != nil {
		if err := unit.Generator.Generate(ctx, w); err != nil {
			w.rollback()
			var perr *compilation.ParseError
			if errors.As(err, &perr) {
				if perr.VirtualPath == "" {
					perr.VirtualPath = unit.VirtualPath
				}
				return perr
			}
			return &compilation.ParseError{VirtualPath: unit.VirtualPath, Message: "code generation failed", Err: err}
		}
	}

	b.units = append(b.units, unit)
	for _, path := range w.sources {
		b.sources = append(b.sources, path)
		b.sourceMap[filepath.Clean(path)] = unit.Handle
	}
	b.resources = append(b.resources, w.resources...)
	if len(w.refs) > 0 {
		b.unitRefs[unit.Handle] = w.refs
	}
	for _, name := range unit.TypeNames {
		b.typeNames[name] = struct{}{}
	}
	if w.size > 0 {
		b.size += w.size
	} else {
		b.size += unit.SizeHint
	}
	return nil
}

// AddSource writes a generated file on behalf of an added unit
func (b *Builder) AddSource(h compilation.Handle, name string, content []byte) error {
	if b.compiled {
		return ErrAlreadyCompiled
	}
	if err := os.MkdirAll(b.sourceDir, 0755); err != nil {
		return fmt.Errorf("failed to create source directory: %w", err)
	}
	path := filepath.Join(b.sourceDir, b.sourceFileName(h, name))
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to write source %s: %w", name, err)
	}
	b.sources = append(b.sources, path)
	b.sourceMap[filepath.Clean(path)] = h
	b.size += int64(len(content))
	return nil
}

// References returns the merged reference list: initial references first,
// then each unit's additions in unit order, without duplicates
func (b *Builder) References() []string {
	seen := make(map[string]struct{})
	var refs []string
	add := func(paths []string) {
		for _, p := range paths {
			if _, ok := seen[p]; ok || p == "" {
				continue
			}
			seen[p] = struct{}{}
			refs = append(refs, p)
		}
	}
	add(b.opts.InitialReferences)
	for _, u := range b.units {
		add(b.unitRefs[u.Handle])
	}
	return refs
}

// Compile invokes the compiler service. It returns the outcome and, when
// compilation failed, a *compilation.CompileError covering every
// diagnostic. A locked output file is recovered by marking it for deletion
// and reported as compilation.ErrOutputLocked so the caller can retry
// under another name.
func (b *Builder) Compile(ctx context.Context) (*Outcome, error) {
	if b.compiled {
		return nil, ErrAlreadyCompiled
	}
	b.compiled = true

	if b.opts.Compiler == nil {
		return nil, ErrNoCompiler
	}
	if len(b.sources) == 0 && len(b.resources) == 0 {
		return nil, ErrNothingToCompile
	}
	if !b.opts.KeepGeneratedFiles {
		defer os.RemoveAll(b.sourceDir)
	}

	outputPath := b.OutputPath()
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	outcome := &Outcome{
		Units:      b.units,
		References: b.References(),
		UnitErrors: make(map[compilation.Handle]*compilation.CompileError),
	}

	req := &compilation.CompileRequest{
		Language:    b.opts.Language,
		Culture:     b.opts.Culture,
		SourceFiles: b.sources,
		Resources:   b.resources,
		References:  outcome.References,
		OutputPath:  outputPath,
		Options:     b.opts.CompilerOptions,
	}

	log := b.logger.WithFields(logrus.Fields{
		"assembly": b.opts.OutputName,
		"language": b.opts.Language,
		"units":    len(b.units),
	})
	log.Debug("Compiling assembly")

	start := time.Now()
	resp, err := b.opts.Compiler.Compile(ctx, req)
	outcome.Duration = time.Since(start)
	if err != nil {
		if errors.Is(err, compilation.ErrOutputLocked) {
			b.recoverLockedOutput(outputPath)
			return outcome, compilation.ErrOutputLocked
		}
		return outcome, fmt.Errorf("compiler invocation failed for %s: %w", b.opts.OutputName, err)
	}

	outcome.Diagnostics = resp.Diagnostics
	outcome.ExitCode = resp.ExitCode

	if hasLockedOutput(resp.Diagnostics) {
		b.recoverLockedOutput(outputPath)
		return outcome, compilation.ErrOutputLocked
	}

	if resp.Failed() {
		b.attribute(outcome)
		log.WithFields(logrus.Fields{
			"errors":       len(resp.Errors()),
			"unattributed": len(outcome.Unattributed),
		}).Info("Assembly compilation failed")
		return outcome, compilation.NewCompileError(b.failurePath(), outcome.Diagnostics)
	}

	outcome.Assembly = compilation.Assembly{
		Name: b.opts.OutputName,
		Path: resp.AssemblyPath,
	}
	log.WithField("duration", outcome.Duration).Debug("Assembly compiled")
	return outcome, nil
}

// failurePath names the failing build in its aggregate error
func (b *Builder) failurePath() string {
	if len(b.units) == 1 {
		return b.units[0].VirtualPath
	}
	return b.opts.OutputName
}

// attribute assigns error diagnostics to units through the source map. When
// a single unit was compiled it receives everything unmatched.
func (b *Builder) attribute(outcome *Outcome) {
	byBase := make(map[string]compilation.Handle, len(b.sourceMap))
	ambiguous := make(map[string]bool)
	for path, h := range b.sourceMap {
		base := filepath.Base(path)
		if prev, ok := byBase[base]; ok && prev != h {
			ambiguous[base] = true
		}
		byBase[base] = h
	}

	units := make(map[compilation.Handle]*compilation.BuildUnit, len(b.units))
	for _, u := range b.units {
		units[u.Handle] = u
	}

	perUnit := make(map[compilation.Handle][]compilation.Diagnostic)
	for i := range outcome.Diagnostics {
		d := &outcome.Diagnostics[i]

		h, ok := b.sourceMap[filepath.Clean(d.File)]
		if !ok && d.File != "" {
			base := filepath.Base(strings.ReplaceAll(d.File, "\\", "/"))
			if !ambiguous[base] {
				h, ok = byBase[base]
			}
		}
		if !ok && len(b.units) == 1 {
			h, ok = b.units[0].Handle, true
		}

		if ok {
			if u, found := units[h]; found {
				d.VirtualPath = u.VirtualPath
				perUnit[h] = append(perUnit[h], *d)
				continue
			}
		}
		if d.Severity == compilation.SeverityError {
			outcome.Unattributed = append(outcome.Unattributed, *d)
		}
	}

	for h, diags := range perUnit {
		hasError := false
		for _, d := range diags {
			if d.Severity == compilation.SeverityError {
				hasError = true
				break
			}
		}
		if hasError {
			outcome.UnitErrors[h] = compilation.NewCompileError(units[h].VirtualPath, diags)
		}
	}
}

// recoverLockedOutput marks the locked output, and for satellite builds the
// base assembly, for deletion
func (b *Builder) recoverLockedOutput(outputPath string) {
	paths := []string{outputPath}
	if b.opts.Culture != "" && b.opts.BaseAssembly != "" {
		paths = append(paths, filepath.Join(b.opts.CodegenDir, b.opts.BaseAssembly+cache.AssemblyExtension))
	}
	for _, p := range paths {
		if err := cache.MarkForDeletion(p); err != nil {
			b.logger.WithError(err).WithField("path", p).Warn("Failed to mark locked output for deletion")
		}
	}
	b.logger.WithField("assembly", b.opts.OutputName).Warn("Output assembly locked, marked for deletion")
}

func hasLockedOutput(diags []compilation.Diagnostic) bool {
	for _, d := range diags {
		if d.Code == LockedOutputCode {
			return true
		}
	}
	return false
}

// AssemblyNameFromPath returns the short assembly name of a reference path
func AssemblyNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
