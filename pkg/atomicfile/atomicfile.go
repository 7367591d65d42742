// Package atomicfile replaces files on disk so that readers only ever see
// the previous complete contents or the new complete contents.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// tempPattern returns the os.CreateTemp pattern used for path's temp files.
func tempPattern(path string) string {
	return filepath.Base(path) + ".*.tmp"
}

// WriteFile writes data to a fresh temporary file in the directory of path,
// syncs it, and renames it onto path in one filesystem operation. The parent
// directory is created if missing. On any error the temporary file is removed
// and path is left untouched.
func WriteFile(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("atomicfile: create dir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, tempPattern(path))
	if err != nil {
		return fmt.Errorf("atomicfile: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()        //nolint:errcheck
			os.Remove(tmpName) //nolint:errcheck
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("atomicfile: write %q: %w", tmpName, err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("atomicfile: chmod %q: %w", tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("atomicfile: sync %q: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("atomicfile: close %q: %w", tmpName, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomicfile: rename onto %q: %w", path, err)
	}

	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry for the rename. Not every platform
// supports fsync on a directory, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync() //nolint:errcheck
	d.Close()
}

// CleanTemp removes temporary files left next to path by writes that were
// interrupted before their rename. It returns the number of files removed.
func CleanTemp(path string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), tempPattern(path)))
	if err != nil {
		return 0, fmt.Errorf("atomicfile: glob temp files: %w", err)
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("atomicfile: remove %q: %w", m, err)
		}
		removed++
	}
	return removed, nil
}
