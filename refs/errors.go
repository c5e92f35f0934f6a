package refs

import "errors"

// Sentinel errors for the kinds enumerated in the spec's error-handling
// design (§7). Callers compare with errors.Is; I/O failures are not
// sentinels, they are the underlying billy/os error wrapped with
// fmt.Errorf("%s: %w", op, err) so errors.Is still reaches through to e.g.
// os.ErrNotExist.
var (
	// ErrReferenceNotFound is returned when a name is absent from both the
	// loose and the packed store.
	ErrReferenceNotFound = errors.New("reference not found")

	// ErrInvalidReferenceName is returned when Normalize rejects an input.
	ErrInvalidReferenceName = errors.New("invalid reference name")

	// ErrReferenceAlreadyExists is returned by a non-forced create/rename
	// into an occupied name, or one that prefix-conflicts with an existing
	// name.
	ErrReferenceAlreadyExists = errors.New("reference already exists")

	// ErrInvalidTarget is returned when a direct reference's target OID is
	// not present in the object database, or a symbolic target fails
	// normalization.
	ErrInvalidTarget = errors.New("invalid reference target")

	// ErrReferenceCorrupted is returned when a loose ref file cannot be
	// parsed.
	ErrReferenceCorrupted = errors.New("corrupted reference file")

	// ErrPackedRefsCorrupted is returned when the packed-refs file cannot be
	// parsed.
	ErrPackedRefsCorrupted = errors.New("corrupted packed-refs file")

	// ErrTooNested is returned when resolving a symbolic reference chain
	// exceeds MaxNestingLevel.
	ErrTooNested = errors.New("reference chain too deep")

	// ErrReferenceHasChanged is returned by an old-guarded write (§6A) when
	// the on-disk value no longer matches the expected old value.
	ErrReferenceHasChanged = errors.New("reference has changed concurrently")

	// ErrInvalidArgument covers caller misuse, e.g. calling SetOid on a
	// symbolic handle.
	ErrInvalidArgument = errors.New("invalid argument")
)
