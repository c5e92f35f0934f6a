package refs

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/tuxdna/gitref/plumbing"
)

// MaxNestingLevel bounds symbolic-reference resolution (§4.4.8), matching
// the teacher's own resolution guard against reference cycles.
const MaxNestingLevel = 5

// Filter selects which kinds of references ForEach/ForEachPrefix visits,
// mirroring the teacher's iterator mode flags generalized to the spec's
// PACKED/OID/SYMBOLIC/LISTALL set (§4.4.9).
type Filter uint8

const (
	FilterPacked   Filter = 1 << iota // include names sourced from packed-refs
	FilterOid                         // include direct (OID) references
	FilterSymbolic                    // include symbolic references
	FilterListAll  = FilterOid | FilterSymbolic | FilterPacked
)

// RefDB is the Unified Reference API of §4.4: the single entry point
// combining the loose store, the packed cache, and the well-known-roots
// rules into lookup/create/update/delete/rename/resolve/enumerate.
// Grounded on the teacher's DotGit ref methods (Refs/Ref/SetRef/RemoveRef),
// generalized with the rename/resolve/prefix operations the teacher never
// implements at this layer (go-git never renames refs below the storer).
type RefDB struct {
	fs     billy.Filesystem
	loose  *looseStore
	packed *packedCache
	odb    ObjectDatabase
	reflog ReflogManager
}

// Option configures a RefDB at construction time.
type Option func(*RefDB)

// WithObjectDatabase wires the external object-existence/tag-peeling
// collaborator (§6). Without it, CreateOid/SetOid skip the target-existence
// check and PackAll leaves refs/tags/ entries unpeeled.
func WithObjectDatabase(odb ObjectDatabase) Option {
	return func(r *RefDB) { r.odb = odb }
}

// WithReflogManager wires the external reflog-rename collaborator (§6).
// Defaults to a no-op when not supplied.
func WithReflogManager(m ReflogManager) Option {
	return func(r *RefDB) { r.reflog = m }
}

// NewRefDB opens a reference backend rooted at fs, the repository root
// filesystem (§6's layout: HEAD/MERGE_HEAD/FETCH_HEAD, refs/..., packed-refs,
// logs/refs/...).
func NewRefDB(fs billy.Filesystem, opts ...Option) *RefDB {
	r := &RefDB{
		fs:     fs,
		loose:  newLooseStore(fs),
		packed: newPackedCache(fs),
		reflog: noopReflogManager{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup implements §4.4.1: loose first, then the (freshened) packed cache.
func (r *RefDB) Lookup(name string) (*plumbing.Reference, error) {
	n, err := Normalize(name, false)
	if err != nil {
		return nil, err
	}
	return r.lookupNormalized(n)
}

func (r *RefDB) lookupNormalized(n plumbing.ReferenceName) (*plumbing.Reference, error) {
	ref, err := r.loose.read(n)
	if err == nil {
		return ref, nil
	}
	if err != ErrReferenceNotFound {
		return nil, err
	}

	if err := r.packed.load(); err != nil {
		return nil, err
	}
	e, ok := r.packed.lookup(n)
	if !ok {
		return nil, ErrReferenceNotFound
	}
	return e.toReference(r.packed.mtime), nil
}

// Exists implements §4.4.2.
func (r *RefDB) Exists(name string) (bool, error) {
	n, err := Normalize(name, false)
	if err != nil {
		return false, err
	}
	_, err = r.lookupNormalized(n)
	if err == nil {
		return true, nil
	}
	if err == ErrReferenceNotFound {
		return false, nil
	}
	return false, err
}

// CreateOid implements §4.4.3: a new direct reference.
func (r *RefDB) CreateOid(name string, oid plumbing.Hash, force bool) (*plumbing.Reference, error) {
	n, err := Normalize(name, true)
	if err != nil {
		return nil, err
	}

	if !force {
		exists, err := r.Exists(n.String())
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrReferenceAlreadyExists, n)
		}
		if err := r.checkRenameAvailable("", n); err != nil {
			return nil, err
		}
	}

	if err := r.verifyTarget(oid); err != nil {
		return nil, err
	}

	ref := plumbing.NewHashReference(n, oid)
	return r.loose.write(ref, nil)
}

// CreateSymbolic implements §4.4.4: a new symbolic reference.
func (r *RefDB) CreateSymbolic(name, target string, force bool) (*plumbing.Reference, error) {
	n, err := Normalize(name, false)
	if err != nil {
		return nil, err
	}
	t, err := Normalize(target, false)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid target %q", ErrInvalidTarget, target)
	}

	if !force {
		exists, err := r.Exists(n.String())
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrReferenceAlreadyExists, n)
		}
		if err := r.checkRenameAvailable("", n); err != nil {
			return nil, err
		}
	}

	ref := plumbing.NewSymbolicReference(n, t)
	return r.loose.write(ref, nil)
}

// SetOid implements §4.4.5's direct-update path. old, when non-nil, guards
// the write with the §6A optimistic-concurrency check.
func (r *RefDB) SetOid(h *plumbing.Reference, oid plumbing.Hash, old *plumbing.Reference) (*plumbing.Reference, error) {
	if h.Type() != plumbing.HashReference {
		return nil, fmt.Errorf("%w: SetOid on a non-direct reference %s", ErrInvalidArgument, h.Name())
	}
	if err := r.verifyTarget(oid); err != nil {
		return nil, err
	}

	updated := plumbing.NewHashReference(h.Name(), oid)
	return r.loose.write(updated, old)
}

// SetSymbolicTarget implements §4.4.5's symbolic-update path.
func (r *RefDB) SetSymbolicTarget(h *plumbing.Reference, target string, old *plumbing.Reference) (*plumbing.Reference, error) {
	if h.Type() != plumbing.SymbolicReference {
		return nil, fmt.Errorf("%w: SetSymbolicTarget on a non-symbolic reference %s", ErrInvalidArgument, h.Name())
	}
	t, err := Normalize(target, false)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid target %q", ErrInvalidTarget, target)
	}

	updated := plumbing.NewSymbolicReference(h.Name(), t)
	return r.loose.write(updated, old)
}

func (r *RefDB) verifyTarget(oid plumbing.Hash) error {
	if r.odb == nil {
		return nil
	}
	ok, err := r.odb.Exists(oid)
	if err != nil {
		return fmt.Errorf("check object existence: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s not present in object database", ErrInvalidTarget, oid)
	}
	return nil
}

// Delete implements §4.4.6.
func (r *RefDB) Delete(h *plumbing.Reference) error {
	return r.delete(h.Name(), h.IsPacked())
}

// delete is the internal helper §4.4.6 describes: it does not free/forget
// the caller's handle, only removes the on-disk representation(s).
func (r *RefDB) delete(name plumbing.ReferenceName, isPacked bool) error {
	if isPacked {
		if err := r.packed.load(); err != nil {
			return err
		}
		if _, ok := r.packed.lookup(name); !ok {
			return ErrReferenceNotFound
		}
		delete(r.packed.entries, name)
		if err := r.packed.write(); err != nil {
			return err
		}
		return nil
	}

	if err := r.loose.remove(name); err != nil {
		return err
	}

	if err := r.packed.load(); err != nil {
		return err
	}
	if _, ok := r.packed.lookup(name); ok {
		return r.delete(name, true)
	}

	dir := parentDir(name.String())
	for strings.Count(dir, "/") > 1 {
		if err := removeEmptyDirs(r.fs, dir, false); err != nil {
			break
		}
		dir = parentDir(dir)
	}
	_ = removeEmptyDirs(r.fs, dir, true)
	return nil
}

// Rename implements §4.4.7.
func (r *RefDB) Rename(h *plumbing.Reference, newName string, force bool) (*plumbing.Reference, error) {
	n, err := Normalize(newName, h.Type() == plumbing.HashReference)
	if err != nil {
		return nil, err
	}

	if !force {
		if err := r.checkRenameAvailable(h.Name(), n); err != nil {
			return nil, err
		}
	}

	oldName := h.Name()
	wasPacked := h.IsPacked()

	if err := r.delete(oldName, wasPacked); err != nil {
		return nil, fmt.Errorf("rename %s to %s: %w", oldName, n, err)
	}

	rollback := func(cause error) (*plumbing.Reference, error) {
		old := plumbing.NewHashReference(oldName, h.Hash())
		if h.Type() == plumbing.SymbolicReference {
			old = plumbing.NewSymbolicReference(oldName, h.Target())
		}
		if _, rerr := r.loose.write(old, nil); rerr != nil {
			return nil, fmt.Errorf("rename %s to %s failed (%w), and rollback also failed: %s", oldName, n, cause, rerr)
		}
		return nil, fmt.Errorf("rename %s to %s: %w", oldName, n, cause)
	}

	// §4.4.7 step 4: a stale directory at new_name (e.g. the tree of a
	// longer ref name being replaced by a shorter one) is cleared out of
	// the way; a stale plain file is a rollback condition instead, since
	// overwriting it would silently destroy whatever put it there.
	if fi, statErr := r.fs.Stat(n.String()); statErr == nil {
		if fi.IsDir() {
			if rmErr := removeAllRecursive(r.fs, n.String()); rmErr != nil {
				return rollback(fmt.Errorf("remove stale directory %s: %w", n, rmErr))
			}
		} else {
			return rollback(fmt.Errorf("%w: %s exists as a file", ErrReferenceAlreadyExists, n))
		}
	} else if !isNotExistErr(statErr) {
		return rollback(fmt.Errorf("stat %s: %w", n, statErr))
	}

	var created *plumbing.Reference
	switch h.Type() {
	case plumbing.SymbolicReference:
		created, err = r.CreateSymbolic(n.String(), h.Target().String(), true)
	default:
		created, err = r.CreateOid(n.String(), h.Hash(), true)
	}
	if err != nil {
		return rollback(err)
	}

	if head, herr := r.lookupNormalized("HEAD"); herr == nil && head.Type() == plumbing.SymbolicReference && head.Target() == oldName {
		if _, err := r.SetSymbolicTarget(head, n.String(), nil); err != nil {
			return nil, fmt.Errorf("rename %s to %s: update HEAD: %w", oldName, n, err)
		}
	}

	if err := r.reflog.RenameLog(oldName, n); err != nil {
		return nil, fmt.Errorf("rename %s to %s: rename reflog: %w", oldName, n, err)
	}

	return created, nil
}

// checkRenameAvailable implements §4.4.7 step 2: no existing ref other than
// the one being renamed may share a '/'-boundary path prefix with newName.
func (r *RefDB) checkRenameAvailable(current, newName plumbing.ReferenceName) error {
	var conflict error
	err := r.ForEach(FilterListAll, func(existing plumbing.ReferenceName) error {
		if existing == current {
			return nil
		}
		if prefixConflict(existing.String(), newName.String()) {
			conflict = fmt.Errorf("%w: %s conflicts with existing %s", ErrReferenceAlreadyExists, newName, existing)
			return errStopIteration
		}
		return nil
	})
	if err != nil && err != errStopIteration {
		return err
	}
	return conflict
}

// prefixConflict reports whether a and b share a path prefix up to a '/'
// boundary, i.e. one would shadow the other as a directory vs. file.
func prefixConflict(a, b string) bool {
	m := len(a)
	if len(b) < m {
		m = len(b)
	}
	if a[:m] != b[:m] {
		return false
	}
	if len(a) == len(b) {
		return true
	}
	if len(a) > m {
		return a[m] == '/'
	}
	return b[m] == '/'
}

// Resolve implements §4.4.8: follow a symbolic chain to its direct target.
func (r *RefDB) Resolve(h *plumbing.Reference) (*plumbing.Reference, error) {
	if h.Type() == plumbing.HashReference {
		return r.lookupNormalized(h.Name())
	}

	cur := h
	for i := 0; i < MaxNestingLevel; i++ {
		target, err := r.lookupNormalized(cur.Target())
		if err != nil {
			return nil, err
		}
		if target.Type() == plumbing.HashReference {
			return target, nil
		}
		cur = target
	}
	return nil, fmt.Errorf("%w: %s", ErrTooNested, h.Name())
}

// errStopIteration is a private sentinel used to short-circuit ForEach from
// within this package; it is never returned to callers.
var errStopIteration = fmt.Errorf("stop iteration")

// ForEach implements §4.4.9 across the full refs tree.
func (r *RefDB) ForEach(flags Filter, cb func(name plumbing.ReferenceName) error) error {
	return r.forEachPrefix("", flags, cb)
}

// ForEachPrefix is the additive §6A convenience: a scoped walk under a
// caller-supplied prefix, built on the same plumbing as ForEach.
func (r *RefDB) ForEachPrefix(prefix string, flags Filter, cb func(name plumbing.ReferenceName) error) error {
	return r.forEachPrefix(prefix, flags, cb)
}

func (r *RefDB) forEachPrefix(prefix string, flags Filter, cb func(name plumbing.ReferenceName) error) error {
	seen := make(map[plumbing.ReferenceName]bool)

	if flags&FilterPacked != 0 {
		if err := r.packed.load(); err != nil {
			return err
		}
		names := make([]plumbing.ReferenceName, 0, len(r.packed.entries))
		for n := range r.packed.entries {
			if strings.HasPrefix(n.String(), prefix) {
				names = append(names, n)
			}
		}
		for _, n := range names {
			seen[n] = true
			if err := cb(n); err != nil {
				return err
			}
		}
	}

	roots := []string{"HEAD", "MERGE_HEAD", "FETCH_HEAD", "refs"}
	for _, root := range roots {
		if !strings.HasPrefix(root, prefix) && !strings.HasPrefix(prefix, root) {
			continue
		}
		err := r.walkLooseRoot(root, prefix, flags, seen, cb)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *RefDB) walkLooseRoot(root, prefix string, flags Filter, seen map[plumbing.ReferenceName]bool, cb func(name plumbing.ReferenceName) error) error {
	fi, err := r.fs.Stat(root)
	if err != nil {
		if isNotExistErr(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", root, err)
	}

	if !fi.IsDir() {
		return r.visitLooseFile(root, prefix, flags, seen, cb)
	}

	return walkFiles(r.fs, root, func(path string) error {
		return r.visitLooseFile(path, prefix, flags, seen, cb)
	})
}

func (r *RefDB) visitLooseFile(path, prefix string, flags Filter, seen map[plumbing.ReferenceName]bool, cb func(name plumbing.ReferenceName) error) error {
	if !strings.HasPrefix(path, prefix) {
		return nil
	}
	name := plumbing.ReferenceName(path)
	if strings.HasSuffix(path, ".lock") {
		return nil
	}
	if flags&FilterPacked != 0 && seen[name] {
		return nil
	}

	if flags != FilterListAll {
		kind, err := r.loose.sniff(name)
		if err != nil {
			return err
		}
		switch kind {
		case plumbing.SymbolicReference:
			if flags&FilterSymbolic == 0 {
				return nil
			}
		default:
			if flags&FilterOid == 0 {
				return nil
			}
		}
	}

	return cb(name)
}

// ListAll accumulates every matching name into an owned slice, the thin
// wrapper §4.4.9 describes over foreach.
func (r *RefDB) ListAll(flags Filter) ([]plumbing.ReferenceName, error) {
	var out []plumbing.ReferenceName
	err := r.ForEach(flags, func(name plumbing.ReferenceName) error {
		out = append(out, name)
		return nil
	})
	return out, err
}

func isNotExistErr(err error) bool {
	return os.IsNotExist(err)
}
