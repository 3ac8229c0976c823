package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/buildresult"
	"github.com/platinummonkey/webcompile/pkg/compilation/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DiskTierName is the default name of the disk tier
const DiskTierName = "disk"

// PrecompiledTierName is the conventional name of the read-only precompiled tier
const PrecompiledTierName = "precompiled"

// TargetTierName is the conventional name of the writable tier rooted at a
// precompilation target
const TargetTierName = "target"

// AssemblyExtension is the file extension of compiled assemblies
const AssemblyExtension = ".dll"

const tempFileSuffix = ".tmp"

// DiskTier persists results as YAML records in a directory, next to the
// assemblies they describe. A record whose assembly is missing or marked
// for deletion is treated as absent.
type DiskTier struct {
	name        string
	dir         string
	readOnly    bool
	precompiled bool
	logger      *logrus.Logger

	// serializes record writes; reads go straight to the filesystem
	mu sync.Mutex
}

// NewDiskTier creates a disk tier. Writable tiers create their directory.
func NewDiskTier(cfg DiskConfig) (*DiskTier, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("disk tier requires a directory")
	}
	if cfg.Name == "" {
		cfg.Name = DiskTierName
		if cfg.Precompiled {
			cfg.Name = PrecompiledTierName
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	if !cfg.ReadOnly {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	return &DiskTier{
		name:        cfg.Name,
		dir:         cfg.Dir,
		readOnly:    cfg.ReadOnly,
		precompiled: cfg.Precompiled,
		logger:      cfg.Logger,
	}, nil
}

// Name implements Tier
func (d *DiskTier) Name() string {
	return d.name
}

// Dir returns the tier directory
func (d *DiskTier) Dir() string {
	return d.dir
}

// ReadOnly reports whether the tier rejects writes
func (d *DiskTier) ReadOnly() bool {
	return d.readOnly
}

// AssemblyPath returns the path of a codegen assembly in this tier
func (d *DiskTier) AssemblyPath(name string) string {
	return filepath.Join(d.dir, name+AssemblyExtension)
}

func (d *DiskTier) recordPath(key string) string {
	return filepath.Join(d.dir, key+config.CompiledRecordExtension)
}

func (d *DiskTier) resolve(name string, global bool) compilation.Assembly {
	if global {
		base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
		return compilation.Assembly{Name: base, Path: name, Global: true}
	}
	return compilation.Assembly{Name: name, Path: d.AssemblyPath(name)}
}

// Get implements Tier
func (d *DiskTier) Get(ctx context.Context, key string) (*buildresult.Result, error) {
	if key == "" {
		return nil, ErrInvalidCacheKey
	}

	path := d.recordPath(key)
	if IsMarked(path) {
		return nil, ErrCacheMiss
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read record %s: %w", path, err)
	}

	var rec buildresult.Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		d.logger.WithFields(logrus.Fields{
			"tier":  d.name,
			"key":   key,
			"error": err,
		}).Warn("Removing corrupt cache record")
		d.discard(path)
		return nil, ErrCacheMiss
	}

	result, err := buildresult.FromRecord(&rec, d.resolve)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"tier":  d.name,
			"key":   key,
			"error": err,
		}).Warn("Removing unreadable cache record")
		d.discard(path)
		return nil, ErrCacheMiss
	}

	if asm := result.Assembly(); !asm.IsZero() && !Exists(asm.Path) {
		d.logger.WithFields(logrus.Fields{
			"tier":     d.name,
			"key":      key,
			"assembly": asm.Path,
		}).Debug("Cached assembly missing, discarding record")
		d.discard(path)
		return nil, ErrCacheMiss
	}

	if d.precompiled {
		result.SetFlags(buildresult.FlagPrecompiled)
	}
	return result, nil
}

// discard removes a record unless the tier is read-only
func (d *DiskTier) discard(path string) {
	if d.readOnly {
		return
	}
	if err := MarkForDeletion(path); err != nil {
		d.logger.WithError(err).Warn("Failed to discard cache record")
	}
}

// Put implements Tier. Codegen assemblies built elsewhere are copied into
// the tier directory so the record stays self-contained.
func (d *DiskTier) Put(ctx context.Context, key string, result *buildresult.Result) error {
	if key == "" {
		return ErrInvalidCacheKey
	}
	if d.readOnly {
		return ErrReadOnly
	}
	if !result.CacheToDisk() {
		return ErrNotCacheable
	}

	rec, err := result.ToRecord()
	if err != nil {
		return err
	}

	if asm := result.Assembly(); !asm.IsZero() && !asm.Global {
		if err := d.importAssembly(asm); err != nil {
			return err
		}
	}

	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	path := d.recordPath(key)
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}
	// a fresh record supersedes an earlier deletion request
	_ = os.Remove(MarkerPath(path))
	return nil
}

func (d *DiskTier) importAssembly(asm compilation.Assembly) error {
	target := d.AssemblyPath(asm.Name)
	if filepath.Clean(asm.Path) == target {
		return nil
	}
	if Exists(target) {
		return nil
	}
	if err := copyFile(asm.Path, target); err != nil {
		return fmt.Errorf("failed to copy assembly %s: %w", asm.Name, err)
	}
	return nil
}

// Remove implements Tier
func (d *DiskTier) Remove(ctx context.Context, key string) error {
	if d.readOnly {
		return nil
	}
	return MarkForDeletion(d.recordPath(key))
}

// RemoveAssembly removes the named assembly and every record built into or
// against it, cascading to the assemblies of removed records. It returns
// the removed keys.
func (d *DiskTier) RemoveAssembly(name string) ([]string, error) {
	if d.readOnly {
		return nil, ErrReadOnly
	}

	records, err := d.records()
	if err != nil {
		return nil, err
	}

	var removed []string
	visited := map[string]bool{}
	queue := []string{name}
	for len(queue) > 0 {
		asm := queue[0]
		queue = queue[1:]
		if asm == "" || visited[asm] {
			continue
		}
		visited[asm] = true

		if err := MarkForDeletion(d.AssemblyPath(asm)); err != nil {
			return removed, err
		}
		for key, rec := range records {
			if !recordUses(rec, asm) {
				continue
			}
			if err := MarkForDeletion(d.recordPath(key)); err != nil {
				return removed, err
			}
			delete(records, key)
			removed = append(removed, key)
			if !rec.AssemblyGlobal {
				queue = append(queue, rec.Assembly)
			}
		}
	}
	return removed, nil
}

func recordUses(rec *buildresult.Record, name string) bool {
	if !rec.AssemblyGlobal && rec.Assembly == name {
		return true
	}
	for _, ref := range rec.References {
		if ref == name {
			return true
		}
	}
	return false
}

// records loads every readable record keyed by cache key
func (d *DiskTier) records() (map[string]*buildresult.Record, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]*buildresult.Record{}, nil
		}
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	records := make(map[string]*buildresult.Record)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, config.CompiledRecordExtension) {
			continue
		}
		path := filepath.Join(d.dir, name)
		if IsMarked(path) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rec buildresult.Record
		if err := yaml.Unmarshal(data, &rec); err != nil {
			continue
		}
		records[strings.TrimSuffix(name, config.CompiledRecordExtension)] = &rec
	}
	return records, nil
}

// Keys returns the keys of every record in the tier
func (d *DiskTier) Keys() ([]string, error) {
	records, err := d.records()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	return keys, nil
}

// RemoveAllCodegenFiles deletes everything in the tier directory except the
// hash directory. Files still in use are marked for deletion.
func (d *DiskTier) RemoveAllCodegenFiles() error {
	if d.readOnly {
		return ErrReadOnly
	}

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	var errs compilation.ErrorList
	for _, entry := range entries {
		name := entry.Name()
		if name == config.HashDirectory || strings.HasSuffix(name, config.DeleteMarkerExtension) {
			continue
		}
		path := filepath.Join(d.dir, name)
		if entry.IsDir() {
			if err := os.RemoveAll(path); err != nil {
				errs.Add(err)
			}
			continue
		}
		if err := MarkForDeletion(path); err != nil {
			errs.Add(err)
		}
	}
	return errs.Err()
}

// RemoveOldTempFiles deletes leftover temporary files older than maxAge and
// returns how many were removed
func (d *DiskTier) RemoveOldTempFiles(maxAge time.Duration) (int, error) {
	if d.readOnly {
		return 0, nil
	}

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read cache directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), tempFileSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(d.dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// SweepDeleteMarkers retries pending deletions in the tier directory
func (d *DiskTier) SweepDeleteMarkers() (int, error) {
	if d.readOnly {
		return 0, nil
	}
	return SweepDeleteMarkers(d.dir)
}

// writeFileAtomic writes data to a temp file and renames it into place
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*"+tempFileSuffix)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*"+tempFileSuffix)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dst)
}
