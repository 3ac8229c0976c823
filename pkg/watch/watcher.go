package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/buildresult"
	"github.com/platinummonkey/webcompile/pkg/compilation/config"
	"github.com/platinummonkey/webcompile/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Invalidator reacts to file changes, typically the build manager
type Invalidator interface {
	InvalidateDependency(ctx context.Context, vpath string) []string
	InvalidateAssembly(ctx context.Context, name string) []string
	RequestRecycle(reason string)
}

// Watcher tracks the dependencies of results in the memory tier and
// invalidates them when a file changes. It implements orchestrator.Watcher.
type Watcher struct {
	fs     *fsnotify.Watcher
	mapper compilation.PathMapper
	logger *logrus.Logger

	mu sync.Mutex
	// dirs are the physical directories registered with fsnotify
	dirs map[string]bool
	// deps maps a physical path to the virtual paths it backs
	deps map[string]map[string]bool
	// assemblies maps a physical assembly path to its name
	assemblies map[string]string
	hashFile   string
}

// New creates a watcher. mapper resolves virtual dependency paths.
func New(mapper compilation.PathMapper, logger *logrus.Logger) (*Watcher, error) {
	if mapper == nil {
		return nil, fmt.Errorf("path mapper is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		fs:         fsw,
		mapper:     mapper,
		logger:     logger,
		dirs:       make(map[string]bool),
		deps:       make(map[string]map[string]bool),
		assemblies: make(map[string]string),
	}, nil
}

// Watch registers the dependencies of a result placed in the memory tier.
// It reports whether every dependency is now watched. Changes made before
// registration produce no event, so the caller revalidates the result before
// marking it watched.
func (w *Watcher) Watch(key string, r *buildresult.Result) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, dep := range r.Dependencies() {
		physical := w.mapper.MapPath(dep)
		dir := physical
		if info, err := os.Stat(physical); err != nil || !info.IsDir() {
			dir = filepath.Dir(physical)
		}
		if err := w.addDir(dir); err != nil {
			w.logger.WithError(err).WithFields(logrus.Fields{
				"key":  key,
				"path": dep,
			}).Debug("Dependency not watched")
			return false
		}

		set := w.deps[physical]
		if set == nil {
			set = make(map[string]bool)
			w.deps[physical] = set
		}
		set[dep] = true
	}

	if asm := r.Assembly(); asm.Path != "" && !asm.Global {
		if err := w.addDir(filepath.Dir(asm.Path)); err == nil {
			w.assemblies[filepath.Clean(asm.Path)] = asm.Name
		}
	}
	return true
}

// WatchCodegen watches the special files hash under the codegen directory.
// A change to it means another process rebuilt the application.
func (w *Watcher) WatchCodegen(codegenDir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hashDir := filepath.Join(codegenDir, config.HashDirectory)
	if err := w.addDir(hashDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", hashDir, err)
	}
	w.hashFile = filepath.Join(hashDir, config.HashFileName)
	return nil
}

// addDir registers a directory once; callers hold mu
func (w *Watcher) addDir(dir string) error {
	if w.dirs[dir] {
		return nil
	}
	if err := w.fs.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = true
	return nil
}

// Run processes file events until ctx is cancelled or the watcher is closed
func (w *Watcher) Run(ctx context.Context, inv Invalidator) error {
	defer observability.RecoverPanic(w.logger, "file watcher")

	w.logger.WithField("directories", w.watchedDirs()).Info("Started watching dependencies")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, inv, event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Watcher error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, inv Invalidator, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	name := filepath.Clean(event.Name)

	w.mu.Lock()
	hashChanged := w.hashFile != "" && name == w.hashFile
	assembly, isAssembly := w.assemblies[name]
	removedAssembly := isAssembly && event.Op&(fsnotify.Remove|fsnotify.Rename) != 0
	if removedAssembly {
		delete(w.assemblies, name)
	}
	var vpaths []string
	for _, physical := range []string{name, filepath.Dir(name)} {
		for vpath := range w.deps[physical] {
			vpaths = append(vpaths, vpath)
		}
		delete(w.deps, physical)
	}
	w.mu.Unlock()

	if hashChanged {
		inv.RequestRecycle("special files hash changed")
		return
	}

	if removedAssembly {
		keys := inv.InvalidateAssembly(ctx, assembly)
		w.logger.WithFields(logrus.Fields{
			"assembly": assembly,
			"removed":  len(keys),
		}).Info("Assembly removed from disk")
	}

	for _, vpath := range vpaths {
		keys := inv.InvalidateDependency(ctx, vpath)
		w.logger.WithFields(logrus.Fields{
			"path":    vpath,
			"op":      event.Op.String(),
			"removed": len(keys),
		}).Debug("Dependency changed")
	}
}

func (w *Watcher) watchedDirs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// Close stops the watcher
func (w *Watcher) Close() error {
	return w.fs.Close()
}
