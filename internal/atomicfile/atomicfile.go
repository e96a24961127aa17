// Package atomicfile replaces files so that readers see either the old
// content or the complete new content, never a partial write.
package atomicfile

import (
	"io"
	"os"
	"path/filepath"

	"github.com/couchcryptid/weather-forecast/internal/domain"
)

// Write streams encode into a temporary sibling of path, syncs it and
// renames it into place. The temporary file is removed on any failure.
// Errors are *domain.IOError.
func Write(path string, encode func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &domain.IOError{Op: "create temp file", Path: path, Err: err}
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := encode(tmp); err != nil {
		return &domain.IOError{Op: "encode", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &domain.IOError{Op: "sync", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &domain.IOError{Op: "close", Path: path, Err: err}
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return &domain.IOError{Op: "chmod", Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &domain.IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// WriteFile atomically replaces path with data.
func WriteFile(path string, data []byte) error {
	return Write(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
