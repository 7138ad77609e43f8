// Package reader implements the File Reader (spec §4.D): directory
// listing and bounded-range file reads over a *snapshot.Snapshot.
package reader

import (
	"strings"

	"github.com/cratescope/cratescope/pkg/common"
	"github.com/cratescope/cratescope/pkg/snapshot"
)

// ValidatePath rejects absolute paths, ".." segments, and empty segments,
// per spec §4.D. It guards this package's reads and listings, and
// pkg/facade also applies it to search path filters (pkg/search itself
// checks the same shape with its own normalizePathFilter).
func ValidatePath(p string) error {
	if p == "" {
		return nil
	}
	if strings.HasPrefix(p, "/") {
		return common.NewError(common.CodeBadPath, "path must not be absolute", nil)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			return common.NewError(common.CodeBadPath, "path must not contain empty segments", nil)
		}
		if seg == ".." {
			return common.NewError(common.CodeBadPath, "path must not contain ..", nil)
		}
	}
	return nil
}

// ListRoot lists the immediate children of the crate root.
func ListRoot(snap *snapshot.Snapshot) []snapshot.Entry {
	return snap.ListRoot()
}

// ListSubdir lists the immediate children of path, or CodeNotFound if path
// does not name a directory.
func ListSubdir(snap *snapshot.Snapshot, path string) ([]snapshot.Entry, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	entries, ok := snap.ListSubdir(path)
	if !ok {
		return nil, common.NewError(common.CodeNotFound, "not a directory: "+path, nil)
	}
	return entries, nil
}

// ReadFile returns the 1-based inclusive line range [start, end] from the
// file at path, joined with "\n", or CodeNotFound if path is not a stored
// file. An omitted (zero) start defaults to 1; an omitted (zero) end
// defaults to the file's last line. start > end or start beyond the line
// count yields ("", nil) rather than an error (spec §4.B).
func ReadFile(snap *snapshot.Snapshot, path string, start, end int) (string, error) {
	if err := ValidatePath(path); err != nil {
		return "", err
	}
	data, ok := snap.ReadFile(path)
	if !ok {
		return "", common.NewError(common.CodeNotFound, "not a file: "+path, nil)
	}
	if len(data) == 0 {
		return "", nil
	}

	lines := strings.Split(string(data), "\n")
	lineCount := len(lines)
	// A file ending in '\n' splits into lineCount+1 elements with a
	// trailing "", but that trailing empty string is not itself a line
	// of content -- spec's line_count is the number of real lines.
	if data[len(data)-1] == '\n' {
		lineCount--
	}

	if start <= 0 {
		start = 1
	}
	if end <= 0 {
		end = lineCount
	}
	if end > lineCount {
		end = lineCount
	}
	if start > end || start > lineCount {
		return "", nil
	}

	return strings.Join(lines[start-1:end], "\n"), nil
}
