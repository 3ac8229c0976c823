package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/platinummonkey/webcompile/pkg/compilation/config"
	"github.com/platinummonkey/webcompile/pkg/compilation/fingerprint"
)

// HashFilePath returns the location of the special files hash
func (d *DiskTier) HashFilePath() string {
	return filepath.Join(d.dir, config.HashDirectory, config.HashFileName)
}

// ReadHash returns the recorded special files hash. A missing or malformed
// file yields a zero hash.
func (d *DiskTier) ReadHash() (fingerprint.SpecialFilesHash, error) {
	data, err := os.ReadFile(d.HashFilePath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fingerprint.SpecialFilesHash{}, nil
		}
		return fingerprint.SpecialFilesHash{}, fmt.Errorf("failed to read hash file: %w", err)
	}

	h, err := fingerprint.ParseSpecialFilesHash(string(data))
	if err != nil {
		d.logger.WithError(err).Warn("Ignoring malformed hash file")
		return fingerprint.SpecialFilesHash{}, nil
	}
	return h, nil
}

// WriteHash records the special files hash
func (d *DiskTier) WriteHash(h fingerprint.SpecialFilesHash) error {
	if d.readOnly {
		return ErrReadOnly
	}
	path := d.HashFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create hash directory: %w", err)
	}
	return writeFileAtomic(path, []byte(h.String()))
}
