package refs

import (
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/tuxdna/gitref/plumbing"
)

// ReflogManager is the external collaborator named in §6: this package only
// ever needs to rename a reflog file when a reference is renamed (§4.4.7
// step 7). Reflog content semantics — appending entries, pruning by
// expiry — are an explicit Non-goal (§1) and live entirely outside this
// package.
type ReflogManager interface {
	// RenameLog renames the reflog for oldName to newName if one exists. It
	// is a no-op, not an error, when no reflog exists for oldName.
	RenameLog(oldName, newName plumbing.ReferenceName) error
}

// logsPath is the directory reflogs live under, relative to the repository
// root (§6).
const logsPath = "logs"

// fsReflogManager is the default ReflogManager: a thin filename-maintenance
// wrapper over the same billy.Filesystem the rest of the package uses.
type fsReflogManager struct {
	fs billy.Filesystem
}

// NewFilesystemReflogManager returns a ReflogManager that renames reflog
// files alongside ref renames, using fs for all filesystem access.
func NewFilesystemReflogManager(fs billy.Filesystem) ReflogManager {
	return &fsReflogManager{fs: fs}
}

func (m *fsReflogManager) RenameLog(oldName, newName plumbing.ReferenceName) error {
	oldPath := m.fs.Join(logsPath, oldName.String())
	newPath := m.fs.Join(logsPath, newName.String())

	if _, err := m.fs.Stat(oldPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat reflog %s: %w", oldPath, err)
	}

	if err := m.fs.MkdirAll(m.fs.Join(logsPath, parentDir(newName.String())), 0o755); err != nil {
		return fmt.Errorf("create reflog directory for %s: %w", newName, err)
	}

	if err := m.fs.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("rename reflog %s to %s: %w", oldPath, newPath, err)
	}
	return nil
}

// parentDir returns the directory portion of a '/'-joined name, or "." if
// name has no slash.
func parentDir(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			return name[:i]
		}
	}
	return "."
}

// noopReflogManager is used when the caller has no reflog subsystem to wire
// in; Rename then simply skips step 7.
type noopReflogManager struct{}

func (noopReflogManager) RenameLog(plumbing.ReferenceName, plumbing.ReferenceName) error { return nil }
