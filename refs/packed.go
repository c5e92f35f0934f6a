package refs

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/tuxdna/gitref/plumbing"
)

// packedRefsPath is the fixed location of the packed-refs file, relative to
// the repository root.
const packedRefsPath = "packed-refs"

// packedHeader is the single comment line the writer emits, matching the
// teacher's own header token.
const packedHeader = "# pack-refs with: peeled \n"

// packedEntry is the cache element described in §3: an OID, an optional
// peeled OID for annotated tags, and the was-loose/has-peel flags used by
// the packer (§4.5).
type packedEntry struct {
	name     plumbing.ReferenceName
	oid      plumbing.Hash
	peeled   plumbing.Hash
	hasPeel  bool
	wasLoose bool
}

// packedCache is the process-wide, per-repository cache over packed-refs,
// grounded on the teacher's packedRefs map plus syncPackedRefs/processLine,
// and on hugescm/modules/zeta/refs's mtime-gated fsBackend cache.
type packedCache struct {
	fs      billy.Filesystem
	entries map[plumbing.ReferenceName]*packedEntry
	mtime   time.Time
	loaded  bool
}

func newPackedCache(fs billy.Filesystem) *packedCache {
	return &packedCache{fs: fs}
}

// load implements §4.3's cache contract: stat the file; absent clears the
// cache; unchanged mtime is a no-op; otherwise the file is fully re-parsed
// and the map atomically replaced.
func (c *packedCache) load() error {
	fi, err := c.fs.Stat(packedRefsPath)
	if err != nil {
		if os.IsNotExist(err) {
			c.entries = nil
			c.mtime = time.Time{}
			c.loaded = true
			return nil
		}
		return fmt.Errorf("stat %s: %w", packedRefsPath, err)
	}

	if c.loaded && fi.ModTime().Equal(c.mtime) {
		return nil
	}

	content, err := readFileString(c.fs, packedRefsPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", packedRefsPath, err)
	}

	entries, err := parsePackedRefs(content)
	if err != nil {
		c.entries = nil
		c.mtime = time.Time{}
		c.loaded = false
		return err
	}

	c.entries = entries
	c.mtime = fi.ModTime()
	c.loaded = true
	return nil
}

// lookup returns the packed entry for name, if the cache (assumed freshly
// loaded by the caller) has one.
func (c *packedCache) lookup(name plumbing.ReferenceName) (*packedEntry, bool) {
	e, ok := c.entries[name]
	return e, ok
}

// write serializes the current cache contents to packed-refs via the
// atomic lock-and-rename primitive, then updates the cache's recorded
// mtime from the post-write stat.
func (c *packedCache) write() error {
	body := serializePackedRefs(c.entries)
	if err := atomicWrite(c.fs, packedRefsPath, []byte(body), packedFileMode); err != nil {
		return fmt.Errorf("write %s: %w", packedRefsPath, err)
	}

	fi, err := c.fs.Stat(packedRefsPath)
	if err != nil {
		return fmt.Errorf("stat %s after write: %w", packedRefsPath, err)
	}
	c.mtime = fi.ModTime()
	c.loaded = true
	return nil
}

// parsePackedRefs applies the §4.3 parser contract: leading '#' comment
// lines, then ref lines each optionally followed by a peel line legal only
// after a refs/tags/ ref line.
func parsePackedRefs(content string) (map[plumbing.ReferenceName]*packedEntry, error) {
	if len(content) > 0 && content[len(content)-1] != '\n' {
		return nil, fmt.Errorf("%w: missing trailing newline", ErrPackedRefsCorrupted)
	}

	entries := make(map[plumbing.ReferenceName]*packedEntry)

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var last *packedEntry
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		if line[0] == '#' {
			last = nil
			continue
		}

		if line[0] == '^' {
			if last == nil || !strings.HasPrefix(last.name.String(), "refs/tags/") {
				return nil, fmt.Errorf("%w: peel line without a preceding tag line", ErrPackedRefsCorrupted)
			}
			h, err := plumbing.NewHashSafe(line[1:])
			if err != nil {
				return nil, fmt.Errorf("%w: invalid peel OID: %s", ErrPackedRefsCorrupted, err)
			}
			last.peeled = h
			last.hasPeel = true
			continue
		}

		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("%w: ref line missing space separator", ErrPackedRefsCorrupted)
		}
		h, err := plumbing.NewHashSafe(line[:sp])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid ref OID: %s", ErrPackedRefsCorrupted, err)
		}
		name := plumbing.ReferenceName(line[sp+1:])
		if len(name) == 0 {
			return nil, fmt.Errorf("%w: empty ref name", ErrPackedRefsCorrupted)
		}

		e := &packedEntry{name: name, oid: h}
		entries[name] = e
		last = e
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPackedRefsCorrupted, err)
	}

	return entries, nil
}

// serializePackedRefs renders entries per the §4.3 writer contract: the
// fixed header, then entries sorted by byte-wise ref name comparison, each
// a ref line optionally followed by a peel line.
func serializePackedRefs(entries map[plumbing.ReferenceName]*packedEntry) string {
	names := make([]plumbing.ReferenceName, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	var b strings.Builder
	b.WriteString(packedHeader)
	for _, n := range names {
		e := entries[n]
		b.WriteString(e.oid.String())
		b.WriteByte(' ')
		b.WriteString(n.String())
		b.WriteByte('\n')
		if e.hasPeel {
			b.WriteByte('^')
			b.WriteString(e.peeled.String())
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// toReference converts a cache entry into a Reference handle carrying the
// cache's current mtime, marked as packed per §4.3's lookup contract.
func (e *packedEntry) toReference(mtime time.Time) *plumbing.Reference {
	return plumbing.NewHashReference(e.name, e.oid).WithSource(true, mtime)
}
