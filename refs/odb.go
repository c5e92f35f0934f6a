package refs

import "github.com/tuxdna/gitref/plumbing"

// ObjectType distinguishes the handful of object kinds the refs backend
// needs to reason about: only enough to find a tag's peeled target, never to
// decode object content.
type ObjectType int8

const (
	// AnyObject matches any object type; used for existence checks.
	AnyObject ObjectType = iota
	CommitObject
	TreeObject
	BlobObject
	TagObject
)

// Object is the narrow view of an object this package needs: its type, and
// (for annotated tags) the OID of what the tag points at.
type Object interface {
	Type() ObjectType
	// TagTarget returns the OID the tag object points at. Only meaningful
	// when Type() == TagObject; implementations may panic or return the
	// zero hash otherwise.
	TagTarget() plumbing.Hash
}

// ObjectDatabase is the external collaborator named in §6: the refs backend
// only ever needs to check that a target OID exists (CreateOid, SetOid) and
// to peel annotated tags when compacting (PackAll). It never reads, writes,
// or decodes arbitrary object content — that's the rest of the repository's
// job, entirely out of this package's scope per §1.
type ObjectDatabase interface {
	// Exists reports whether oid is present in the object database.
	Exists(oid plumbing.Hash) (bool, error)
	// Lookup fetches the object identified by oid. typ may be AnyObject to
	// accept any kind.
	Lookup(oid plumbing.Hash, typ ObjectType) (Object, error)
}
