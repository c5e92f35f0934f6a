package refs

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuxdna/gitref/plumbing"
)

func hashN(b byte) plumbing.Hash {
	var h plumbing.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func TestRefDBCreateAndLookupDirect(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	odb := newMemoryODB()
	h := hashN(0xaa)
	odb.putCommit(h)

	db := NewRefDB(fs, WithObjectDatabase(odb))

	ref, err := db.CreateOid("refs/heads/main", h, false)
	require.NoError(t, err)
	assert.Equal(t, h, ref.Hash())

	got, err := db.Lookup("refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, h, got.Hash())
}

func TestRefDBCreateOidRejectsUnknownTarget(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	odb := newMemoryODB()
	db := NewRefDB(fs, WithObjectDatabase(odb))

	_, err := db.CreateOid("refs/heads/main", hashN(0xaa), false)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestRefDBCreateOidWithoutForceRejectsExisting(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	odb := newMemoryODB()
	h := hashN(0xaa)
	odb.putCommit(h)
	db := NewRefDB(fs, WithObjectDatabase(odb))

	_, err := db.CreateOid("refs/heads/main", h, false)
	require.NoError(t, err)

	_, err = db.CreateOid("refs/heads/main", h, false)
	assert.ErrorIs(t, err, ErrReferenceAlreadyExists)

	_, err = db.CreateOid("refs/heads/main", h, true)
	assert.NoError(t, err)
}

func TestRefDBCreateSymbolicAndResolve(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	odb := newMemoryODB()
	h := hashN(0xaa)
	odb.putCommit(h)
	db := NewRefDB(fs, WithObjectDatabase(odb))

	_, err := db.CreateOid("refs/heads/main", h, false)
	require.NoError(t, err)

	_, err = db.CreateSymbolic("HEAD", "refs/heads/main", false)
	require.NoError(t, err)

	head, err := db.Lookup("HEAD")
	require.NoError(t, err)
	assert.Equal(t, plumbing.SymbolicReference, head.Type())

	resolved, err := db.Resolve(head)
	require.NoError(t, err)
	assert.Equal(t, h, resolved.Hash())
}

func TestRefDBResolveTooNested(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	db := NewRefDB(fs)

	// Build a chain refs/heads/r0 -> r1 -> ... -> r6, all symbolic, longer
	// than MaxNestingLevel hops, so Resolve must give up.
	const chainLen = MaxNestingLevel + 2
	for i := 0; i < chainLen-1; i++ {
		name := chainRefName(i)
		target := chainRefName(i + 1)
		_, err := db.CreateSymbolic(name, target, false)
		require.NoError(t, err)
	}
	_, err := db.CreateSymbolic(chainRefName(chainLen-1), "refs/heads/nonexistent", false)
	require.NoError(t, err)

	h, err := db.Lookup(chainRefName(0))
	require.NoError(t, err)

	_, err = db.Resolve(h)
	assert.ErrorIs(t, err, ErrTooNested)
}

func chainRefName(i int) string {
	return "refs/heads/r" + string(rune('0'+i))
}

func TestRefDBSetOidRequiresDirectHandle(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	db := NewRefDB(fs)

	_, err := db.CreateSymbolic("HEAD", "refs/heads/main", false)
	require.NoError(t, err)

	head, err := db.Lookup("HEAD")
	require.NoError(t, err)

	_, err = db.SetOid(head, hashN(0xaa), nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRefDBDeleteLoose(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	odb := newMemoryODB()
	h := hashN(0xaa)
	odb.putCommit(h)
	db := NewRefDB(fs, WithObjectDatabase(odb))

	ref, err := db.CreateOid("refs/heads/main", h, false)
	require.NoError(t, err)

	require.NoError(t, db.Delete(ref))

	_, err = db.Lookup("refs/heads/main")
	assert.ErrorIs(t, err, ErrReferenceNotFound)
}

func TestRefDBRenameRejectsPrefixConflict(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	odb := newMemoryODB()
	h := hashN(0xaa)
	odb.putCommit(h)
	db := NewRefDB(fs, WithObjectDatabase(odb))

	_, err := db.CreateOid("refs/heads/foo/bar", h, false)
	require.NoError(t, err)

	target, err := db.CreateOid("refs/heads/baz", h, false)
	require.NoError(t, err)

	_, err = db.Rename(target, "refs/heads/foo", false)
	assert.ErrorIs(t, err, ErrReferenceAlreadyExists)
}

// TestRefDBRenameForcePrunesStaleDirectory exercises §4.4.7 step 4: with
// force=true (so the availability check is skipped), renaming into a name
// that is currently a directory of other refs must clear that directory
// out of the way rather than failing when the loose write tries to replace
// it.
func TestRefDBRenameForcePrunesStaleDirectory(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	odb := newMemoryODB()
	h := hashN(0xaa)
	odb.putCommit(h)
	db := NewRefDB(fs, WithObjectDatabase(odb))

	_, err := db.CreateOid("refs/heads/a/b", h, false)
	require.NoError(t, err)

	target, err := db.CreateOid("refs/heads/baz", h, false)
	require.NoError(t, err)

	renamed, err := db.Rename(target, "refs/heads/a", true)
	require.NoError(t, err)
	assert.Equal(t, plumbing.ReferenceName("refs/heads/a"), renamed.Name())

	got, err := db.Lookup("refs/heads/a")
	require.NoError(t, err)
	assert.Equal(t, h, got.Hash())

	_, err = db.Lookup("refs/heads/a/b")
	assert.ErrorIs(t, err, ErrReferenceNotFound)
}

func TestRefDBRenameMovesReference(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	odb := newMemoryODB()
	h := hashN(0xaa)
	odb.putCommit(h)
	db := NewRefDB(fs, WithObjectDatabase(odb))

	ref, err := db.CreateOid("refs/heads/old", h, false)
	require.NoError(t, err)

	renamed, err := db.Rename(ref, "refs/heads/new", false)
	require.NoError(t, err)
	assert.Equal(t, plumbing.ReferenceName("refs/heads/new"), renamed.Name())

	_, err = db.Lookup("refs/heads/old")
	assert.ErrorIs(t, err, ErrReferenceNotFound)

	got, err := db.Lookup("refs/heads/new")
	require.NoError(t, err)
	assert.Equal(t, h, got.Hash())
}

func TestRefDBRenameUpdatesHead(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	odb := newMemoryODB()
	h := hashN(0xaa)
	odb.putCommit(h)
	db := NewRefDB(fs, WithObjectDatabase(odb))

	ref, err := db.CreateOid("refs/heads/old", h, false)
	require.NoError(t, err)
	_, err = db.CreateSymbolic("HEAD", "refs/heads/old", false)
	require.NoError(t, err)

	_, err = db.Rename(ref, "refs/heads/new", false)
	require.NoError(t, err)

	head, err := db.Lookup("HEAD")
	require.NoError(t, err)
	assert.Equal(t, plumbing.ReferenceName("refs/heads/new"), head.Target())
}

func TestRefDBForEachListAll(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	odb := newMemoryODB()
	h := hashN(0xaa)
	odb.putCommit(h)
	db := NewRefDB(fs, WithObjectDatabase(odb))

	_, err := db.CreateOid("refs/heads/a", h, false)
	require.NoError(t, err)
	_, err = db.CreateOid("refs/heads/b", h, false)
	require.NoError(t, err)
	_, err = db.CreateSymbolic("HEAD", "refs/heads/a", false)
	require.NoError(t, err)

	names, err := db.ListAll(FilterListAll)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]plumbing.ReferenceName{"refs/heads/a", "refs/heads/b", "HEAD"},
		names,
	)
}

func TestRefDBForEachPrefix(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	odb := newMemoryODB()
	h := hashN(0xaa)
	odb.putCommit(h)
	db := NewRefDB(fs, WithObjectDatabase(odb))

	_, err := db.CreateOid("refs/heads/a", h, false)
	require.NoError(t, err)
	_, err = db.CreateOid("refs/tags/v1", h, false)
	require.NoError(t, err)

	var names []plumbing.ReferenceName
	err = db.ForEachPrefix("refs/heads/", FilterListAll, func(n plumbing.ReferenceName) error {
		names = append(names, n)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []plumbing.ReferenceName{"refs/heads/a"}, names)
}

func TestRefDBExistsAcrossPackedAndLoose(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	odb := newMemoryODB()
	h := hashN(0xaa)
	odb.putCommit(h)
	db := NewRefDB(fs, WithObjectDatabase(odb))

	ref, err := db.CreateOid("refs/heads/main", h, false)
	require.NoError(t, err)
	require.NoError(t, db.PackAll())

	exists, err := db.Exists("refs/heads/main")
	require.NoError(t, err)
	assert.True(t, exists)

	_ = ref
}
