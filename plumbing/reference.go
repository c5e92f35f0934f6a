package plumbing

import (
	"fmt"
	"time"
)

// ReferenceName is the canonical, normalized name of a reference, e.g.
// "refs/heads/main" or "HEAD".
type ReferenceName string

// String returns name as a plain string.
func (n ReferenceName) String() string {
	return string(n)
}

// ReferenceType distinguishes the two kinds a Reference can hold, plus the
// zero-value Invalid sentinel for handles that failed to resolve.
type ReferenceType int8

const (
	// InvalidReference marks a handle that does not point at a usable ref.
	InvalidReference ReferenceType = iota
	// HashReference is a direct reference: it stores an object id.
	HashReference
	// SymbolicReference is an indirect reference: it stores another
	// reference's name.
	SymbolicReference
)

func (t ReferenceType) String() string {
	switch t {
	case HashReference:
		return "hash-reference"
	case SymbolicReference:
		return "symbolic-reference"
	default:
		return "invalid-reference"
	}
}

// symbolicRefPrefix is the on-disk prefix of a loose symbolic reference file,
// e.g. "ref: refs/heads/main\n".
const symbolicRefPrefix = "ref: "

// Reference is a reference handle: either a direct reference pointing at an
// object id, or a symbolic reference pointing at another reference's name.
// It is a tagged variant (Design Notes, §9), never both at once.
type Reference struct {
	name     ReferenceName
	kind     ReferenceType
	hash     Hash
	target   ReferenceName
	isPacked bool
	mtime    time.Time
}

// NewHashReference builds a direct reference named n pointing at h.
func NewHashReference(n ReferenceName, h Hash) *Reference {
	return &Reference{name: n, kind: HashReference, hash: h}
}

// NewSymbolicReference builds a symbolic reference named n pointing at
// target.
func NewSymbolicReference(n, target ReferenceName) *Reference {
	return &Reference{name: n, kind: SymbolicReference, target: target}
}

// NewReferenceFromStrings builds a Reference from a name and the trimmed
// content of its loose file, inferring direct vs symbolic from the target
// string's shape. This mirrors the teacher's
// plumbing.NewReferenceFromStrings, called from readReferenceFrom and
// processLine for both loose files and packed-refs lines.
func NewReferenceFromStrings(name, target string) *Reference {
	n := ReferenceName(name)
	if tgt, ok := cutSymbolicPrefix(target); ok {
		return NewSymbolicReference(n, ReferenceName(tgt))
	}

	h, err := NewHashSafe(target)
	if err != nil {
		return &Reference{name: n, kind: InvalidReference}
	}
	return NewHashReference(n, h)
}

func cutSymbolicPrefix(s string) (string, bool) {
	if len(s) > len(symbolicRefPrefix) && s[:len(symbolicRefPrefix)] == symbolicRefPrefix {
		return s[len(symbolicRefPrefix):], true
	}
	return "", false
}

// Name returns the reference's canonical name.
func (r *Reference) Name() ReferenceName { return r.name }

// Type returns the reference's kind.
func (r *Reference) Type() ReferenceType { return r.kind }

// Hash returns the target object id. It is only meaningful when Type() ==
// HashReference.
func (r *Reference) Hash() Hash { return r.hash }

// Target returns the target reference name. It is only meaningful when
// Type() == SymbolicReference.
func (r *Reference) Target() ReferenceName { return r.target }

// IsPacked reports whether this handle was last resolved from the
// packed-refs file rather than a loose file.
func (r *Reference) IsPacked() bool { return r.isPacked }

// Mtime returns the modification time of the source (loose file or
// packed-refs file) this handle was last populated from, used by the
// freshness-revalidation primitives in package refs (§4.2, §4.3).
func (r *Reference) Mtime() time.Time { return r.mtime }

// WithSource returns a copy of r with its source bookkeeping
// (packed-vs-loose flag and the source's modification time) set. Reference
// values are otherwise immutable once constructed; this is the one
// controlled way package refs attaches storage-layer metadata to an
// otherwise plain value type, keeping the data-model split described in §3:
// the handle belongs to the caller, the cache/mtime bookkeeping belongs to
// the backend that populated it.
func (r *Reference) WithSource(isPacked bool, mtime time.Time) *Reference {
	cp := *r
	cp.isPacked = isPacked
	cp.mtime = mtime
	return &cp
}

// String renders the reference as text: "<hash> <name>" for a direct
// reference (the shape of a packed-refs ref line, without peel information),
// "ref: <target>" for symbolic (a loose symbolic body without its newline).
func (r *Reference) String() string {
	switch r.kind {
	case HashReference:
		return fmt.Sprintf("%s %s", r.hash.String(), r.name)
	case SymbolicReference:
		return fmt.Sprintf("%s%s", symbolicRefPrefix, r.target)
	default:
		return "<invalid>"
	}
}
