// Package search implements the Full-Text Searcher (spec §4.E): plain or
// regex line matching over a snapshot's files, with case/whole-word/
// extension/path filters and a deterministic (path, line, column) order.
package search

import (
	"bufio"
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/cratescope/cratescope/pkg/common"
	"github.com/cratescope/cratescope/pkg/snapshot"
)

// Mode selects how Query is interpreted.
type Mode string

const (
	ModePlainText Mode = "plain_text"
	ModeRegex     Mode = "regex"
)

// binaryScanWindow is the NUL-scan prefix length used to skip binary files.
const binaryScanWindow = 8 * 1024

// wordChar matches the `[A-Za-z0-9_]` boundary class from spec §4.E.
var wordChar = regexp.MustCompile(`[A-Za-z0-9_]`)

// Request is one full-text search call.
type Request struct {
	Query         string
	Mode          Mode
	CaseSensitive bool
	WholeWord     bool
	MaxResults    int    // 0 = unbounded
	FileExt       string // comma-separated, lowercased, no leading dot
	Path          string // crate-relative prefix filter
}

// LineMatch is one matched line (spec §4.E).
type LineMatch struct {
	Path        string
	LineNumber  int
	ColumnStart int
	ColumnEnd   int
	LineText    string
}

// Search executes req over snap, returning matches ordered by
// (path, line, column); only the first match per line is kept.
func Search(snap *snapshot.Snapshot, req Request) ([]LineMatch, error) {
	if req.Query == "" {
		return nil, common.NewError(common.CodeInvalidQuery, "query must not be empty", nil)
	}

	var pathFilter string
	if req.Path != "" {
		normalized, ok := normalizePathFilter(req.Path)
		if !ok {
			return nil, common.NewError(common.CodeBadPath, "path filter escapes root: "+req.Path, nil)
		}
		pathFilter = normalized
	}

	extFilter := parseExtFilter(req.FileExt)

	matcher, err := newMatcher(req)
	if err != nil {
		return nil, err
	}

	var candidates []string
	snap.Walk(func(p string, _ []byte) bool {
		// Walk already visits paths in ascending lexicographic order
		// (btree-backed), which is the ordering spec §4.E requires.
		if pathFilter != "" && !withinPath(p, pathFilter) {
			return true
		}
		if len(extFilter) > 0 && !extFilter[extOf(p)] {
			return true
		}
		candidates = append(candidates, p)
		return true
	})

	var matches []LineMatch
	for _, p := range candidates {
		data, ok := snap.ReadFile(p)
		if !ok {
			continue
		}
		if looksBinary(data) {
			continue
		}

		fileMatches := matcher.scanFile(p, data)
		for _, m := range fileMatches {
			matches = append(matches, m)
			if req.MaxResults > 0 && len(matches) >= req.MaxResults {
				return matches, nil
			}
		}
	}

	return matches, nil
}

func looksBinary(data []byte) bool {
	window := data
	if len(window) > binaryScanWindow {
		window = window[:binaryScanWindow]
	}
	return bytes.IndexByte(window, 0) >= 0
}

func extOf(p string) string {
	base := path.Base(p)
	idx := strings.LastIndex(base, ".")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(base[idx+1:])
}

func parseExtFilter(spec string) map[string]bool {
	if spec == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, part := range strings.Split(spec, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out[part] = true
		}
	}
	return out
}

func normalizePathFilter(p string) (string, bool) {
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return "", true
	}
	if strings.HasPrefix(p, "/") {
		return "", false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == ".." {
			return "", false
		}
	}
	return p, true
}

func withinPath(p, prefix string) bool {
	if p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}

// matcher finds all match spans on one line, used by both plain-text and
// regex modes.
type matcher struct {
	mode          Mode
	re            *regexp.Regexp
	plain         string
	wholeWord     bool
	caseSensitive bool
}

func newMatcher(req Request) (*matcher, error) {
	switch req.Mode {
	case "", ModePlainText:
		plain := req.Query
		if !req.CaseSensitive {
			plain = strings.ToLower(plain)
		}
		return &matcher{mode: ModePlainText, plain: plain, wholeWord: req.WholeWord, caseSensitive: req.CaseSensitive}, nil
	case ModeRegex:
		pattern := req.Query
		if req.WholeWord {
			pattern = `\b(?:` + pattern + `)\b`
		}
		if !req.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, common.NewError(common.CodeInvalidQuery, "invalid regex: "+req.Query, err)
		}
		return &matcher{mode: ModeRegex, re: re}, nil
	default:
		return nil, common.NewError(common.CodeInvalidQuery, fmt.Sprintf("unknown mode %q", req.Mode), nil)
	}
}

// scanFile returns, per line, the first match found.
func (m *matcher) scanFile(filePath string, data []byte) []LineMatch {
	var out []LineMatch

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		start, end, ok := m.firstMatch(line)
		if !ok {
			continue
		}
		out = append(out, LineMatch{
			Path:        filePath,
			LineNumber:  lineNo,
			ColumnStart: start,
			ColumnEnd:   end,
			LineText:    line,
		})
	}

	return out
}

// firstMatch locates the first (leftmost) match on line, honoring
// whole-word boundaries for plain-text mode (regex mode bakes \b into the
// compiled pattern already).
func (m *matcher) firstMatch(line string) (start, end int, ok bool) {
	if m.mode == ModeRegex {
		loc := m.re.FindStringIndex(line)
		if loc == nil {
			return 0, 0, false
		}
		return loc[0], loc[1], true
	}

	haystack := line
	if !m.caseSensitive {
		haystack = strings.ToLower(line)
	}

	from := 0
	for {
		idx := strings.Index(haystack[from:], m.plain)
		if idx < 0 {
			return 0, 0, false
		}
		absIdx := from + idx
		matchEnd := absIdx + len(m.plain)
		if !m.wholeWord || isWordBoundary(line, absIdx, matchEnd) {
			return absIdx, matchEnd, true
		}
		from = absIdx + 1
		if from >= len(haystack) {
			return 0, 0, false
		}
	}
}

func isWordBoundary(line string, start, end int) bool {
	if start > 0 && wordChar.MatchString(string(line[start-1])) {
		return false
	}
	if end < len(line) && wordChar.MatchString(string(line[end])) {
		return false
	}
	return true
}
