package refs

import (
	"fmt"
	"strings"

	"github.com/tuxdna/gitref/plumbing"
)

// MaxNameLength is the cap on a normalized reference name's length. Longer
// than any real ref name needs to be; it exists to bound the normalizer's
// work and to reject pathological input outright.
const MaxNameLength = 1024

// wellKnownRoots are the non-refs/ names Normalize accepts for oidRef=true,
// per §4.1.
var wellKnownRoots = map[string]bool{
	"HEAD":       true,
	"MERGE_HEAD": true,
	"FETCH_HEAD": true,
}

// charDisposition classifies a byte's role in the reference-name grammar,
// the same table-driven approach as
// antgroup/hugescm/modules/git/ref.go's refnameDisposition (itself following
// git's refs.c), adapted to the spec's exact rule set (§4.1): this grammar
// additionally forbids '*' unconditionally (the spec has no pattern-match
// mode) and does not special-case '{' (the "@{" check is done as a plain
// substring test below instead of via a preceding-byte table, since Go
// strings make that test trivial).
type charDisposition byte

const (
	dispOK charDisposition = iota
	dispBad
)

func disposition(b byte) charDisposition {
	if b <= 0x20 {
		return dispBad
	}
	switch b {
	case '~', '^', ':', '\\', '?', '[', '*':
		return dispBad
	}
	return dispOK
}

// Normalize validates name against the grammar of §4.1 and returns its
// canonical form (duplicate '/' collapsed). oidRef selects the stricter
// grammar used for direct-reference names (branches/tags): the result must
// either live under "refs/" or be one of the well-known roots.
func Normalize(name string, oidRef bool) (plumbing.ReferenceName, error) {
	if len(name) == 0 || len(name) > MaxNameLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidReferenceName, name)
	}

	for i := 0; i < len(name); i++ {
		if disposition(name[i]) == dispBad {
			return "", fmt.Errorf("%w: %q contains a forbidden character", ErrInvalidReferenceName, name)
		}
	}

	if name[0] == '.' {
		return "", fmt.Errorf("%w: %q starts with '.'", ErrInvalidReferenceName, name)
	}
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q contains '..'", ErrInvalidReferenceName, name)
	}
	if strings.Contains(name, "@{") {
		return "", fmt.Errorf("%w: %q contains '@{'", ErrInvalidReferenceName, name)
	}

	normalized := collapseSlashes(name)

	last := normalized[len(normalized)-1]
	if last == '.' || last == '/' {
		return "", fmt.Errorf("%w: %q ends with '.' or '/'", ErrInvalidReferenceName, name)
	}
	if strings.HasSuffix(normalized, ".lock") {
		return "", fmt.Errorf("%w: %q ends with '.lock'", ErrInvalidReferenceName, name)
	}

	if oidRef {
		if !(strings.Contains(normalized, "/") && strings.HasPrefix(normalized, "refs/")) && !wellKnownRoots[normalized] {
			return "", fmt.Errorf("%w: %q is not under refs/ and not a well-known root", ErrInvalidReferenceName, name)
		}
	}

	return plumbing.ReferenceName(normalized), nil
}

// collapseSlashes rewrites runs of consecutive '/' into a single '/'.
func collapseSlashes(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	prevSlash := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	return b.String()
}
