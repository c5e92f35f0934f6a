package refs

import (
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5"
)

// looseFileMode and packedFileMode are the on-disk permission bits for
// loose ref files and the packed-refs file, respectively. They play the role
// of the teacher's (and libgit2's) GIT_REFS_FILE_MODE / GIT_PACKEDREFS_FILE_MODE
// constants.
const (
	looseFileMode  os.FileMode = 0o644
	packedFileMode os.FileMode = 0o644
)

// syncer is the optional interface billy.File implementations (notably
// osfs's wrapped *os.File) satisfy for fsync. Not every billy backend
// supports it (memfs doesn't need to), so it's probed rather than required.
type syncer interface {
	Sync() error
}

// atomicWrite writes content to path by first writing to "path.lock", fsync'ing
// if the backing file supports it, then renaming over path. This is the
// write-via-temp-and-rename primitive the spec requires for both loose refs
// and packed-refs (§5), grounded on the teacher's SetRef/SetPackedRefs use of
// a lock file plus Rename, and on go-billy's own recommended pattern for
// atomic replacement.
func atomicWrite(fs billy.Filesystem, path string, content []byte, mode os.FileMode) (err error) {
	lockPath := path + ".lock"

	f, err := fs.OpenFile(lockPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create lock file %s: %w", lockPath, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close lock file %s: %w", lockPath, cerr)
		}
		if err != nil {
			_ = fs.Remove(lockPath)
		}
	}()

	if _, err = f.Write(content); err != nil {
		return fmt.Errorf("write lock file %s: %w", lockPath, err)
	}

	if s, ok := f.(syncer); ok {
		if err = s.Sync(); err != nil {
			return fmt.Errorf("sync lock file %s: %w", lockPath, err)
		}
	}

	if err = f.Close(); err != nil {
		return fmt.Errorf("close lock file %s: %w", lockPath, err)
	}
	// Avoid a second Close in the deferred cleanup above now that it
	// already succeeded.
	f = nopCloseFile{f}

	if err = fs.Rename(lockPath, path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", lockPath, path, err)
	}

	return nil
}

// nopCloseFile wraps a billy.File whose Close has already been called, so a
// deferred cleanup's second Close is a no-op rather than a double-close
// error.
type nopCloseFile struct {
	billy.File
}

func (nopCloseFile) Close() error { return nil }

// walkFiles recursively visits every regular file under dir, calling fn with
// the file's path relative to the filesystem root. It is the generalized
// form of the teacher's walkReferencesTree, decoupled from ref-gathering so
// both enumeration (ForEach) and compaction (PackAll) can reuse it.
func walkFiles(fs billy.Filesystem, dir string, fn func(path string) error) error {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		p := fs.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := walkFiles(fs, p, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

// removeEmptyDirs walks dir depth-first and removes directories left empty
// after a ref deletion or compaction sweep, mirroring
// antgroup/hugescm/modules/zeta/refs's prune/pruneDirsDFS (§6A). keep
// prevents dir itself (not its empty descendants) from being removed, used
// to protect the fixed refs/heads, refs/tags, refs/remotes roots.
func removeEmptyDirs(fs billy.Filesystem, dir string, keep bool) error {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read dir %s: %w", dir, err)
	}

	empty := true
	for _, entry := range entries {
		if !entry.IsDir() {
			empty = false
			continue
		}
		p := fs.Join(dir, entry.Name())
		if err := removeEmptyDirs(fs, p, false); err != nil {
			return err
		}
		if _, statErr := fs.Stat(p); statErr == nil {
			empty = false
		}
	}

	if !empty || keep {
		return nil
	}
	return fs.Remove(dir)
}

// removeAllRecursive unconditionally removes dir and everything under it,
// unlike removeEmptyDirs which only prunes directories already empty. Used
// by rename (§4.4.7 step 4) to clear a stale directory occupying the
// destination name.
func removeAllRecursive(fs billy.Filesystem, dir string) error {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		p := fs.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := removeAllRecursive(fs, p); err != nil {
				return err
			}
			continue
		}
		if err := fs.Remove(p); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}

	return fs.Remove(dir)
}
