package refs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/tuxdna/gitref/plumbing"
)

// looseStore reads and writes individual loose reference files: HEAD,
// MERGE_HEAD, FETCH_HEAD at the repository root, and the refs/... tree.
// Grounded on the teacher's DotGit.readReferenceFrom / checkReferenceAndTruncate
// / SetRef / readReferenceFile, and on the current go-git
// setRefRwfs/setRefNorwfs capability split (dotgit_setref.go) for the
// optimistic-concurrency write path added by §6A.
type looseStore struct {
	fs billy.Filesystem
}

func newLooseStore(fs billy.Filesystem) *looseStore {
	return &looseStore{fs: fs}
}

// read parses the loose file at name's path, returning a Reference handle
// stamped with its source mtime. It returns ErrReferenceNotFound if no file
// exists there, ErrReferenceCorrupted if the content fails the §4.2 parser
// contract.
func (s *looseStore) read(name plumbing.ReferenceName) (*plumbing.Reference, error) {
	path := name.String()

	fi, err := s.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrReferenceNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.IsDir() {
		return nil, ErrReferenceNotFound
	}

	content, err := readFileString(s.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	ref, err := parseLooseContent(name, content)
	if err != nil {
		return nil, err
	}

	return ref.WithSource(false, fi.ModTime()), nil
}

// readFresh reapplies the freshness-on-read primitive of §4.2: if ref's
// recorded mtime still matches the file's current mtime, ref is returned
// unchanged; otherwise the file is re-parsed.
func (s *looseStore) readFresh(ref *plumbing.Reference) (*plumbing.Reference, error) {
	path := ref.Name().String()

	fi, err := s.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrReferenceNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if !ref.IsPacked() && fi.ModTime().Equal(ref.Mtime()) {
		return ref, nil
	}

	return s.read(ref.Name())
}

// sniff reports the kind of the loose file at name's path without fully
// parsing the target, per §4.2's kind-sniffing helper: it reads only enough
// bytes to distinguish the "ref: " prefix from a direct OID.
func (s *looseStore) sniff(name plumbing.ReferenceName) (plumbing.ReferenceType, error) {
	f, err := s.fs.Open(name.String())
	if err != nil {
		if os.IsNotExist(err) {
			return plumbing.InvalidReference, ErrReferenceNotFound
		}
		return plumbing.InvalidReference, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	buf := make([]byte, len(symbolicRefPrefixBytes))
	n, err := readFull(f, buf)
	if err != nil && n == 0 {
		return plumbing.InvalidReference, fmt.Errorf("read %s: %w", name, err)
	}

	if n >= len(symbolicRefPrefixBytes) && string(buf) == string(symbolicRefPrefixBytes) {
		return plumbing.SymbolicReference, nil
	}
	return plumbing.HashReference, nil
}

// symbolicRefPrefixBytes mirrors plumbing's unexported symbolicRefPrefix
// constant; kept local since plumbing does not export it.
var symbolicRefPrefixBytes = []byte("ref: ")

func readFull(f billy.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// write serializes ref to its loose file atomically. When old is non-nil,
// the write is optimistic-concurrency guarded (§6A): the file must exist and
// its content, ignoring trailing CR/LF, must equal old's serialized body, or
// the write fails with ErrReferenceHasChanged without touching the file.
func (s *looseStore) write(ref *plumbing.Reference, old *plumbing.Reference) (*plumbing.Reference, error) {
	path := ref.Name().String()

	if old != nil {
		if err := s.checkUnchanged(path, old); err != nil {
			return nil, err
		}
	}

	dir := parentDir(path)
	if dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	body := serializeLoose(ref)
	if err := atomicWrite(s.fs, path, []byte(body), looseFileMode); err != nil {
		return nil, fmt.Errorf("write loose reference %s: %w", path, err)
	}

	fi, err := s.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s after write: %w", path, err)
	}

	return ref.WithSource(false, fi.ModTime()), nil
}

// checkUnchanged implements the optimistic-concurrency guard: the file at
// path must contain old's serialized body (trailing CR/LF ignored). A
// missing file fails the check with ErrReferenceHasChanged.
func (s *looseStore) checkUnchanged(path string, old *plumbing.Reference) error {
	content, err := readFileString(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s no longer exists", ErrReferenceHasChanged, path)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}

	want := serializeLoose(old)
	if strings.TrimRight(content, "\r\n") != strings.TrimRight(want, "\r\n") {
		return fmt.Errorf("%w: %s", ErrReferenceHasChanged, path)
	}
	return nil
}

// remove unlinks the loose file for name. Absence is not an error.
func (s *looseStore) remove(name plumbing.ReferenceName) error {
	path := name.String()
	if err := s.fs.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// serializeLoose renders ref as loose-file content: "<40-hex>\n" for direct,
// "ref: <target>\n" for symbolic. Never emits CRLF, per the writer contract
// in §4.2.
func serializeLoose(ref *plumbing.Reference) string {
	switch ref.Type() {
	case plumbing.SymbolicReference:
		return symbolicRefPrefixStr + ref.Target().String() + "\n"
	default:
		return ref.Hash().String() + "\n"
	}
}

const symbolicRefPrefixStr = "ref: "

// parseLooseContent applies the §4.2 parser contract to the raw bytes of a
// loose ref file, tolerating an optional CR before the trailing LF.
func parseLooseContent(name plumbing.ReferenceName, content string) (*plumbing.Reference, error) {
	trimmed, ok := stripLineEnding(content)
	if !ok {
		return nil, fmt.Errorf("%w: %s: missing trailing newline", ErrReferenceCorrupted, name)
	}

	if strings.HasPrefix(trimmed, symbolicRefPrefixStr) {
		target := trimmed[len(symbolicRefPrefixStr):]
		if len(target) == 0 {
			return nil, fmt.Errorf("%w: %s: empty symbolic target", ErrReferenceCorrupted, name)
		}
		return plumbing.NewSymbolicReference(name, plumbing.ReferenceName(target)), nil
	}

	h, err := plumbing.NewHashSafe(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrReferenceCorrupted, name, err)
	}
	return plumbing.NewHashReference(name, h), nil
}

// stripLineEnding removes a trailing "\n" (optionally preceded by "\r") from
// s, reporting false if s does not end in "\n" at all.
func stripLineEnding(s string) (string, bool) {
	if !strings.HasSuffix(s, "\n") {
		return "", false
	}
	s = s[:len(s)-1]
	s = strings.TrimSuffix(s, "\r")
	return s, true
}

// readFileString reads the entire contents of path as a string.
func readFileString(fs billy.Filesystem, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			b.Write(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}
		if n == 0 {
			break
		}
	}
	return b.String(), nil
}
