package refs

import (
	"fmt"
	"strings"

	"github.com/tuxdna/gitref/plumbing"
)

// PackAll performs the three-phase compaction of §4.5: load the packed
// cache, fold every loose direct reference into it, then write the result
// and sweep the now-redundant loose files. Grounded on the teacher's
// PackRefs (lock packed-refs, gather loose+packed, write, delete loose),
// generalized with tag peeling and directory pruning per §6A.
func (r *RefDB) PackAll() error {
	if err := r.packed.load(); err != nil {
		return fmt.Errorf("pack all: load packed cache: %w", err)
	}

	folded, err := r.foldLoose()
	if err != nil {
		return fmt.Errorf("pack all: fold loose refs: %w", err)
	}

	if err := r.peelTags(); err != nil {
		return fmt.Errorf("pack all: peel tags: %w", err)
	}

	if err := r.packed.write(); err != nil {
		return fmt.Errorf("pack all: write packed-refs: %w", err)
	}

	return r.sweepLoose(folded)
}

// foldLoose walks refs/ and inserts a packed entry (was-loose=true) for
// every loose direct reference found, replacing any existing entry of the
// same name. Symbolic loose refs are left on disk, they are not packable.
// Returns the set of names it folded, for the later sweep phase.
func (r *RefDB) foldLoose() ([]plumbing.ReferenceName, error) {
	var folded []plumbing.ReferenceName

	if r.packed.entries == nil {
		r.packed.entries = make(map[plumbing.ReferenceName]*packedEntry)
	}

	err := walkFiles(r.fs, "refs", func(path string) error {
		if strings.HasSuffix(path, ".lock") {
			return nil
		}
		name := plumbing.ReferenceName(path)

		ref, err := r.loose.read(name)
		if err != nil {
			return fmt.Errorf("read loose reference %s: %w", name, err)
		}
		if ref.Type() != plumbing.HashReference {
			return nil
		}

		r.packed.entries[name] = &packedEntry{
			name:     name,
			oid:      ref.Hash(),
			wasLoose: true,
		}
		folded = append(folded, name)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return folded, nil
}

// peelTags fills in the has-peel/peeled fields for every refs/tags/ entry
// that doesn't already carry one, consulting the object database for
// annotated tags. Non-tag objects and entries the ODB doesn't recognize are
// left unpeeled.
func (r *RefDB) peelTags() error {
	if r.odb == nil {
		return nil
	}

	for name, e := range r.packed.entries {
		if !strings.HasPrefix(name.String(), "refs/tags/") || e.hasPeel {
			continue
		}

		obj, err := r.odb.Lookup(e.oid, TagObject)
		if err != nil {
			continue
		}
		if obj.Type() != TagObject {
			continue
		}

		e.peeled = obj.TagTarget()
		e.hasPeel = true
	}
	return nil
}

// sweepLoose removes the loose files for every folded name, after the
// packed-refs write has already committed. Because the commit happens
// first, a crash mid-sweep just leaves redundant loose files for the next
// pack-all to clean up; it never loses data. Errors are collected and the
// first is returned after the sweep completes, per §4.5.
func (r *RefDB) sweepLoose(folded []plumbing.ReferenceName) error {
	var firstErr error
	for _, name := range folded {
		if err := r.loose.remove(name); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove loose reference %s: %w", name, err)
			}
			continue
		}
		dir := parentDir(name.String())
		for strings.Count(dir, "/") > 1 {
			if err := removeEmptyDirs(r.fs, dir, false); err != nil {
				break
			}
			dir = parentDir(dir)
		}
		_ = removeEmptyDirs(r.fs, dir, true)
	}
	return firstErr
}
