// Package refs implements the reference (ref) backend of a
// content-addressed version-control repository: the two-tier loose/packed
// storage for branches, tags and HEAD, the unified lookup/create/update/
// delete/rename/resolve API over both tiers, and the pack-all compaction
// that folds loose refs into the packed file.
//
// It is grounded on go-git's storage/filesystem/internal/dotgit package: the
// same loose-file-plus-packed-refs-cache design, generalized into a
// standalone backend rather than a git.Storer implementation detail.
package refs
