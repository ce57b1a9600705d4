// Package filesys provides the file system surface used by sift.
// It defines small interfaces for the operations each caller needs and an
// implementation that delegates to the standard library, so code touching
// the disk can be tested with an in-memory or mocked file system.
package filesys

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lc/sift/internal/log"
)

// ReadFS is the surface the config loader and the file readers need.
type ReadFS interface {
	Open(string) (*os.File, error)
	ReadFile(string) ([]byte, error)
}

// FileOps is what AtomicWrite and the cleanup of intermediate files need.
type FileOps interface {
	Open(string) (*os.File, error)
	ReadFile(string) ([]byte, error)
	MkdirAll(string, os.FileMode) error
	CreateTemp(string, string) (*os.File, error)
	Rename(string, string) error
	Remove(string) error
	Chmod(string, os.FileMode) error
}

// OS returns a file system implementation that delegates to the standard library.
func OS() OsFS {
	return OsFS{}
}

// OsFS implements ReadFS and FileOps against the local disk.
type OsFS struct{}

func (OsFS) Open(p string) (*os.File, error)                { return os.Open(p) }
func (OsFS) ReadFile(p string) ([]byte, error)              { return os.ReadFile(p) }
func (OsFS) MkdirAll(p string, m os.FileMode) error         { return os.MkdirAll(p, m) }
func (OsFS) CreateTemp(dir, pat string) (*os.File, error)   { return os.CreateTemp(dir, pat) }
func (OsFS) Rename(old, newName string) error               { return os.Rename(old, newName) }
func (OsFS) Remove(p string) error                          { return os.Remove(p) }
func (OsFS) Chmod(p string, m os.FileMode) error            { return os.Chmod(p, m) }

var (
	_ ReadFS  = OsFS{}
	_ FileOps = OsFS{}
)

// AtomicWrite atomically persists data to dst with the provided file mode.
// The parent directory is created when missing. The write is crash-safe on
// local filesystems:
//
//  1. temp file in the same dir
//  2. fsync(temp) + close
//  3. chmod(temp, perm)  (so rename doesn’t carry 0600 default)
//  4. rename(temp, dst)
//  5. fsync(dir)
func AtomicWrite(fsys FileOps, dst string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(dst)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := fsys.CreateTemp(dir, ".sift-*")
	if err != nil {
		return err
	}
	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	cerr := tmp.Close()
	if err == nil {
		err = cerr
	}
	if err == nil {
		err = fsys.Chmod(tmp.Name(), perm)
	}
	if err == nil {
		err = fsys.Rename(tmp.Name(), dst)
	}
	if err != nil {
		if removeErr := fsys.Remove(tmp.Name()); removeErr != nil {
			log.Warnf("filesys: failed to remove temp file %s: %v", tmp.Name(), removeErr)
		}
		return err
	}
	if d, err2 := fsys.Open(dir); err2 == nil {
		if syncErr := d.Sync(); syncErr != nil {
			log.Debugf("filesys: failed to sync directory %s: %v", dir, syncErr)
		}
		if closeErr := d.Close(); closeErr != nil {
			log.Debugf("filesys: failed to close directory %s: %v", dir, closeErr)
		}
	}
	return nil
}

// RemoveIfExists removes p, treating a missing file as success.
func RemoveIfExists(fsys FileOps, p string) error {
	if err := fsys.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
