// Package atomicfile provides safe file replacement via write-to-temp,
// fsync, and atomic rename. This ensures that readers never observe a
// partially-written file.
package atomicfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteFile atomically replaces the file at path with data, using the given
// permission bits for a newly created file.
func WriteFile(path string, data []byte, mode os.FileMode) error {
	return Write(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}, mode)
}

// Write atomically replaces the file at path. The fn callback receives a
// writer for the new file contents. After fn returns successfully the file
// is fsynced, permissions are applied, and the temp file is renamed into
// place. If any step fails the temp file is removed and an error is
// returned.
func Write(path string, fn func(w io.Writer) error, mode os.FileMode) (retErr error) {
	if mode == 0 {
		mode = 0o644
	}
	dir := filepath.Dir(path)

	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("atomicfile: create temp: %w", err)
	}
	tmpPath := f.Name()
	defer func() {
		if retErr != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := fn(f); err != nil {
		return fmt.Errorf("atomicfile: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("atomicfile: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("atomicfile: close: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("atomicfile: chmod: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomicfile: rename: %w", err)
	}
	return nil
}
