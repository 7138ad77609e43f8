// Package snapshot holds the immutable, in-memory representation of one
// decompressed crate tarball (spec §4.B).
package snapshot

import (
	"strings"
	"sync"

	"github.com/tidwall/btree"

	"github.com/cratescope/cratescope/pkg/common"
)

// EntryKind distinguishes a directory entry from a regular file in listing
// results. Symlinks and other non-regular tar entries are never retained
// (spec §4.A edge policy), so this is a closed two-value enum.
type EntryKind string

const (
	KindFile EntryKind = "file"
	KindDir  EntryKind = "dir"
)

// Entry is one child returned by ListRoot/ListSubdir.
type Entry struct {
	Name string
	Kind EntryKind
}

// pathNode is the btree element: one stored file, ordered by Path.
type pathNode struct {
	Path string
	Data []byte
}

func pathLess(a, b interface{}) bool {
	return a.(*pathNode).Path < b.(*pathNode).Path
}

// Snapshot is an immutable (path -> bytes) map plus a derived directory
// index, scoped to a single CrateKey. It never references data outside
// itself and is safe to share across goroutines without locking once
// built.
type Snapshot struct {
	Key   common.CrateKey
	index *btree.BTree // ordered by path, elements are *pathNode

	// dirs is the set of every non-empty prefix directory implied by the
	// stored file paths, built once at construction time (spec §3:
	// "a set of all directory paths").
	dirs map[string]struct{}

	totalBytes int64

	itemsOnce  sync.Once
	itemsValue interface{} // set by pkg/items on first structural query
}

// Builder accumulates files before Freeze produces an immutable Snapshot.
// The Archive Loader (pkg/registry) is the only intended caller.
type Builder struct {
	key   common.CrateKey
	index *btree.BTree
	dirs  map[string]struct{}
	total int64
}

// NewBuilder starts a fresh, empty snapshot under construction for key.
func NewBuilder(key common.CrateKey) *Builder {
	return &Builder{
		key:   key,
		index: btree.New(pathLess),
		dirs:  make(map[string]struct{}),
	}
}

// normalize validates and cleans a tar-entry-style path: POSIX-style
// relative, no leading slash, no ".." segment. It mirrors spec §4.A's
// "reject paths containing .. segments or absolute paths" edge policy: an
// absolute path is rejected outright, not silently de-absoluted.
func normalize(p string) (string, bool) {
	p = strings.TrimPrefix(p, "./")
	if strings.HasPrefix(p, "/") {
		return "", false
	}
	if p == "" {
		return "", false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == ".." {
			return "", false
		}
	}
	return p, true
}

// AddFile stores one regular file's bytes under its crate-root-relative
// path, registering every parent directory prefix along the way. Returns
// false if the path is unsafe (caller should treat this as
// common.CodeMalformedArchive).
func (b *Builder) AddFile(path string, data []byte) bool {
	clean, ok := normalize(path)
	if !ok {
		return false
	}

	b.index.Set(&pathNode{Path: clean, Data: data})
	b.total += int64(len(data))

	// Register every parent directory prefix of clean, e.g. for
	// "src/foo/bar.rs" that's "src" and "src/foo".
	segs := strings.Split(clean, "/")
	for i := 1; i < len(segs); i++ {
		b.dirs[strings.Join(segs[:i], "/")] = struct{}{}
	}
	return true
}

// TotalBytes returns the running sum of stored file payload sizes, used by
// the loader to enforce the aggregate Oversize cap while streaming.
func (b *Builder) TotalBytes() int64 { return b.total }

// Freeze finalizes the builder into an immutable Snapshot.
func (b *Builder) Freeze() *Snapshot {
	return &Snapshot{
		Key:        b.key,
		index:      b.index,
		dirs:       b.dirs,
		totalBytes: b.total,
	}
}

// TotalBytes is the sum of every stored file's payload length; the Crate
// Cache sums this across admitted entries to enforce its byte budget.
func (s *Snapshot) TotalBytes() int64 { return s.totalBytes }

// IsDir reports whether p names a directory: some stored path has
// p+"/" as a prefix (spec §4.B: "Directory existence").
func (s *Snapshot) IsDir(p string) bool {
	p = strings.Trim(p, "/")
	if p == "" {
		return true // root is always a directory
	}
	_, ok := s.dirs[p]
	return ok
}

// Exists reports whether p names a stored file exactly.
func (s *Snapshot) Exists(p string) bool {
	item := s.index.Get(&pathNode{Path: strings.Trim(p, "/")})
	return item != nil
}

// ReadFile returns the raw bytes stored for p, or (nil, false) if p is not
// a stored file.
func (s *Snapshot) ReadFile(p string) ([]byte, bool) {
	item := s.index.Get(&pathNode{Path: strings.Trim(p, "/")})
	if item == nil {
		return nil, false
	}
	return item.(*pathNode).Data, true
}

// listChildren is the shared implementation behind ListRoot/ListSubdir: an
// ascend-from-pivot scan exactly like the teacher's ListDirectory, using a
// trailing NUL as the pivot sentinel since '\x00' sorts lower than any
// other byte that can appear in a path segment.
func (s *Snapshot) listChildren(dir string) []Entry {
	prefix := dir
	if prefix != "" {
		prefix += "/"
	}
	pivot := &pathNode{Path: prefix + "\x00"}

	seen := make(map[string]EntryKind)
	s.index.Ascend(pivot, func(a interface{}) bool {
		node := a.(*pathNode)
		if !strings.HasPrefix(node.Path, prefix) {
			return false
		}
		rel := node.Path[len(prefix):]
		if rel == "" {
			return true
		}
		if idx := strings.IndexByte(rel, '/'); idx >= 0 {
			name := rel[:idx]
			if _, ok := seen[name]; !ok {
				seen[name] = KindDir
			}
			return true
		}
		seen[rel] = KindFile
		return true
	})

	entries := make([]Entry, 0, len(seen))
	for name, kind := range seen {
		entries = append(entries, Entry{Name: name, Kind: kind})
	}
	sortEntries(entries)
	return entries
}

func sortEntries(entries []Entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Name < entries[j-1].Name; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// ListRoot lists the immediate children of the crate root.
func (s *Snapshot) ListRoot() []Entry {
	return s.listChildren("")
}

// ListSubdir lists the immediate children of path, or returns ok=false if
// path does not name a directory.
func (s *Snapshot) ListSubdir(path string) ([]Entry, bool) {
	path = strings.Trim(path, "/")
	if path != "" && !s.IsDir(path) {
		return nil, false
	}
	return s.listChildren(path), true
}

// Walk visits every stored file path in ascending lexicographic order,
// stopping early if visit returns false. Used by pkg/search and pkg/items
// to get the deterministic file-visit ordering spec §4.E/§4.F require.
func (s *Snapshot) Walk(visit func(path string, data []byte) bool) {
	s.index.Ascend(nil, func(a interface{}) bool {
		node := a.(*pathNode)
		return visit(node.Path, node.Data)
	})
}

// ItemIndexOnce runs build at most once per snapshot, guarded by a
// sync.Once, and returns the stored result; pkg/items uses it to memoize
// the structural index for this snapshot (spec §3: "built at most once";
// §5: "initialize-once primitive").
func (s *Snapshot) ItemIndexOnce(build func() interface{}) interface{} {
	s.itemsOnce.Do(func() {
		s.itemsValue = build()
	})
	return s.itemsValue
}
