package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/platinummonkey/webcompile/pkg/compilation/config"
)

// MarkerPath returns the delete marker path of a file
func MarkerPath(path string) string {
	return path + config.DeleteMarkerExtension
}

// IsMarked reports whether a delete marker exists for path
func IsMarked(path string) bool {
	_, err := os.Stat(MarkerPath(path))
	return err == nil
}

// Exists reports whether path exists and is not marked for deletion.
// Readers must use this instead of os.Stat for codegen artifacts.
func Exists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return !IsMarked(path)
}

// MarkForDeletion removes path, or leaves a delete marker when the file is
// still in use. Missing files are not an error.
func MarkForDeletion(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if werr := os.WriteFile(MarkerPath(path), nil, 0644); werr != nil {
		return fmt.Errorf("failed to mark %s for deletion: %w", path, werr)
	}
	return nil
}

// SweepDeleteMarkers retries deletion of every marked file in dir and
// removes markers whose target is gone. It returns the number of
// artifacts removed.
func SweepDeleteMarkers(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, config.DeleteMarkerExtension) {
			continue
		}
		marker := filepath.Join(dir, name)
		target := strings.TrimSuffix(marker, config.DeleteMarkerExtension)

		if err := os.RemoveAll(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			continue // still in use, retry on the next sweep
		}
		if err := os.Remove(marker); err == nil {
			removed++
		}
	}
	return removed, nil
}
