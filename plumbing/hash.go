// Package plumbing holds the low-level value types shared by the refs
// backend: object identifiers and reference handles. It plays the same role
// here that gopkg.in/src-d/go-git.v4/plumbing plays for the teacher package.
package plumbing

import (
	"encoding/hex"
	"errors"
)

// HashSize is the length in bytes of an object identifier.
const HashSize = 20

// ErrInvalidHash is returned when a string is not a well-formed 40-character
// lowercase hex OID.
var ErrInvalidHash = errors.New("invalid object id")

// Hash is a 20-byte object identifier.
type Hash [HashSize]byte

// ZeroHash is the OID with every byte set to zero.
var ZeroHash Hash

// NewHash parses a 40-character hex string into a Hash. Unlike NewHashSafe,
// it ignores errors and returns the zero Hash on invalid input, matching the
// teacher's plumbing.NewHash convenience constructor used throughout
// dotgit.go (e.g. ObjectPacks' NewHash(n[5:len(n)-5])).
func NewHash(s string) Hash {
	h, _ := NewHashSafe(s)
	return h
}

// NewHashSafe parses a 40-character hex string into a Hash, returning
// ErrInvalidHash if s is not exactly 40 lowercase hex characters.
func NewHashSafe(s string) (Hash, error) {
	var h Hash
	if len(s) != HashSize*2 {
		return h, ErrInvalidHash
	}
	n, err := hex.Decode(h[:], []byte(s))
	if err != nil || n != HashSize {
		return Hash{}, ErrInvalidHash
	}
	for _, c := range s {
		if c >= 'A' && c <= 'F' {
			return Hash{}, ErrInvalidHash
		}
	}
	return h, nil
}

// String returns the 40-character lowercase hex representation of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zero OID.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}
