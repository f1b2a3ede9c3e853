package vault

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// errNotDurable means the new file is in place but its directory entry may
// not survive a crash.
var errNotDurable = errors.New("directory sync failed")

// syncDir flushes a directory entry. Swapped out in tests.
var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// atomicWriteFile replaces path with data so that a reader sees either the
// old or the new content. The temp file lives next to path so the rename
// never crosses a filesystem, and it is removed unless the rename succeeds.
// A failed directory sync after the rename is reported as errNotDurable.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".csvault-*")
	if err != nil {
		return err
	}
	renamed := false
	defer func() {
		if !renamed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := writeSynced(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	renamed = true

	if err := syncDir(dir); err != nil {
		return fmt.Errorf("%w: %v", errNotDurable, err)
	}
	return nil
}

// writeSynced restricts f to perm before any data lands in it, then writes,
// flushes and closes it.
func writeSynced(f *os.File, data []byte, perm os.FileMode) error {
	if err := f.Chmod(perm); err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return f.Close()
}

// ensureDir creates the parent directory of path with owner-only access.
func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o700)
}
