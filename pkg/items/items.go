// Package items implements the Item Indexer (spec §4.F): a line-oriented
// structural scan of Rust source files that emits named declarations
// (structs, enums, traits, functions, macros, type aliases, and the
// members of impl/trait-impl blocks), memoized once per snapshot.
package items

import (
	"bufio"
	"bytes"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/cratescope/cratescope/pkg/snapshot"
)

// Category is one of the declaration shapes spec §4.F names.
type Category string

const (
	CategoryStruct           Category = "Struct"
	CategoryEnum             Category = "Enum"
	CategoryTrait            Category = "Trait"
	CategoryFunction         Category = "Function"
	CategoryTypeAlias        Category = "TypeAlias"
	CategoryMacro            Category = "Macro"
	CategoryAttributeMacro   Category = "AttributeMacro"
	CategoryImplType         Category = "ImplType"
	CategoryImplTraitForType Category = "ImplTraitForType"
	CategoryAll              Category = "all"
)

// Record is one discovered declaration (spec §3 ItemRecord).
type Record struct {
	Path            string
	DeclarationName string
	LineStart       int
	LineEnd         int
	Category        Category
	ReceiverType    string // set for ImplType / ImplTraitForType
	TraitName       string // set for ImplTraitForType
}

// rustSourceExt is the canonical source extension for the language these
// crates are written in (spec §4.F: "the language's canonical source
// extension").
const rustSourceExt = ".rs"

var (
	reStruct    = regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?struct\s+([A-Za-z_][A-Za-z0-9_]*)`)
	reEnum      = regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?enum\s+([A-Za-z_][A-Za-z0-9_]*)`)
	reTrait     = regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?(?:unsafe\s+)?trait\s+([A-Za-z_][A-Za-z0-9_]*)`)
	reFn        = regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?(?:async\s+)?(?:unsafe\s+)?(?:extern\s+"[^"]*"\s+)?fn\s+([A-Za-z_][A-Za-z0-9_]*)`)
	reTypeAlias = regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?type\s+([A-Za-z_][A-Za-z0-9_]*)`)
	reMacroDecl = regexp.MustCompile(`^\s*macro_rules!\s*([A-Za-z_][A-Za-z0-9_]*)`)
	reAttrMacro = regexp.MustCompile(`^\s*#\s*\[\s*proc_macro(?:_derive|_attribute)?[^\]]*\]`)
	reImplFor   = regexp.MustCompile(`^\s*(?:unsafe\s+)?impl(?:<[^>]*>)?\s+([A-Za-z_][\w:]*(?:<[^{]*?>)?)\s+for\s+([A-Za-z_][\w:<>, ]*?)\s*\{?\s*$`)
	reImplType  = regexp.MustCompile(`^\s*(?:unsafe\s+)?impl(?:<[^>]*>)?\s+([A-Za-z_][\w:<>, ]*?)\s*\{?\s*$`)
)

// Build walks every .rs file in snap sequentially and returns the complete
// set of declarations, ordered by (path, line_start). Parse panics on a
// single file are recovered and logged; that file's partial results up to
// the panic point are discarded, matching the "one bad file cannot
// invalidate an entire snapshot's index" policy (spec §9).
func Build(snap *snapshot.Snapshot) []Record {
	return BuildWithConcurrency(snap, 1)
}

// BuildWithConcurrency is Build, but scans up to concurrency .rs files at
// once on a bounded worker pool (spec §2: "build, on demand and in
// parallel"; §6: indexer.concurrency). concurrency <= 1 scans sequentially
// on the calling goroutine. Grounded on the teacher's bounded-parallel
// layer indexer (pkg/clip/oci_indexer_optimized.go's semaphore-gated
// goroutines collecting into an order-tagged result set), expressed here
// with errgroup.Group.SetLimit instead of a hand-rolled semaphore channel.
func BuildWithConcurrency(snap *snapshot.Snapshot, concurrency int) []Record {
	type file struct {
		path string
		data []byte
	}
	var files []file
	snap.Walk(func(path string, data []byte) bool {
		if strings.HasSuffix(path, rustSourceExt) {
			files = append(files, file{path: path, data: data})
		}
		return true
	})

	if concurrency < 1 {
		concurrency = 1
	}

	perFile := make([][]Record, len(files))
	if concurrency == 1 {
		for i, f := range files {
			perFile[i] = scanFileSafe(f.path, f.data)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(concurrency)
		for i, f := range files {
			i, f := i, f
			g.Go(func() error {
				perFile[i] = scanFileSafe(f.path, f.data)
				return nil
			})
		}
		_ = g.Wait() // scanFileSafe never returns an error; panics are already recovered
	}

	var all []Record
	for _, records := range perFile {
		all = append(all, records...)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Path != all[j].Path {
			return all[i].Path < all[j].Path
		}
		return all[i].LineStart < all[j].LineStart
	})
	return all
}

// BuildOnce is the memoized entry point; a snapshot builds its item index
// at most once, and concurrent first callers coalesce on the snapshot's
// sync.Once cell (spec §4.F, §5).
func BuildOnce(snap *snapshot.Snapshot, concurrency int) []Record {
	v := snap.ItemIndexOnce(func() interface{} {
		return BuildWithConcurrency(snap, concurrency)
	})
	return v.([]Record)
}

func scanFileSafe(path string, data []byte) (records []Record) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("path", path).Interface("panic", r).Msg("items: parse failed, skipping file")
			records = nil
		}
	}()
	return scanFile(path, data)
}

// scanFile runs the line-oriented declaration scan over one file's
// contents, using closingLine's brace-depth tracking to find each
// declaration's last line.
func scanFile(path string, data []byte) []Record {
	lines := splitLines(data)

	var out []Record
	var pendingAttrMacroLine int // 1-based line of a preceding #[proc_macro...] attribute, 0 if none

	for i := 0; i < len(lines); i++ {
		lineNo := i + 1
		line := lines[i]

		if reAttrMacro.MatchString(line) {
			pendingAttrMacroLine = lineNo
			continue
		}

		switch {
		case reStruct.MatchString(line):
			name := reStruct.FindStringSubmatch(line)[1]
			end := closingLine(lines, i)
			out = append(out, Record{Path: path, DeclarationName: name, LineStart: lineNo, LineEnd: end, Category: CategoryStruct})

		case reEnum.MatchString(line):
			name := reEnum.FindStringSubmatch(line)[1]
			end := closingLine(lines, i)
			out = append(out, Record{Path: path, DeclarationName: name, LineStart: lineNo, LineEnd: end, Category: CategoryEnum})

		case reTrait.MatchString(line):
			name := reTrait.FindStringSubmatch(line)[1]
			end := closingLine(lines, i)
			out = append(out, Record{Path: path, DeclarationName: name, LineStart: lineNo, LineEnd: end, Category: CategoryTrait})

		case reMacroDecl.MatchString(line):
			name := reMacroDecl.FindStringSubmatch(line)[1]
			end := closingLine(lines, i)
			out = append(out, Record{Path: path, DeclarationName: name, LineStart: lineNo, LineEnd: end, Category: CategoryMacro})

		case reTypeAlias.MatchString(line):
			name := reTypeAlias.FindStringSubmatch(line)[1]
			end := lineNo // type aliases end with ';' on a line, usually the same one
			if idx := strings.IndexByte(line, ';'); idx < 0 {
				end = closingSemicolonLine(lines, i)
			}
			out = append(out, Record{Path: path, DeclarationName: name, LineStart: lineNo, LineEnd: end, Category: CategoryTypeAlias})

		case reImplFor.MatchString(line):
			m := reImplFor.FindStringSubmatch(line)
			traitName, receiver := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
			blockEnd := closingLine(lines, i)
			out = append(out, Record{
				Path: path, DeclarationName: traitName, LineStart: lineNo, LineEnd: blockEnd,
				Category: CategoryImplTraitForType, ReceiverType: receiver, TraitName: traitName,
			})
			out = append(out, scanImplMembers(path, lines, i, blockEnd, receiver)...)

		case reImplType.MatchString(line):
			m := reImplType.FindStringSubmatch(line)
			receiver := strings.TrimSpace(m[1])
			blockEnd := closingLine(lines, i)
			out = append(out, scanImplMembers(path, lines, i, blockEnd, receiver)...)

		case reFn.MatchString(line):
			name := reFn.FindStringSubmatch(line)[1]
			end := closingLine(lines, i)
			category := CategoryFunction
			if pendingAttrMacroLine != 0 && pendingAttrMacroLine == lineNo-1 {
				category = CategoryAttributeMacro
			}
			out = append(out, Record{Path: path, DeclarationName: name, LineStart: lineNo, LineEnd: end, Category: category})
		}

		pendingAttrMacroLine = 0
	}

	return out
}

// scanImplMembers walks the body of an impl block (from its opening line
// through blockEnd) one brace-depth level deep, emitting one ImplType
// record per member fn/const/type it finds directly inside the block.
func scanImplMembers(path string, lines []string, openLine, blockEnd int, receiver string) []Record {
	var out []Record
	depth := 0
	entered := false

	for i := openLine; i < blockEnd && i < len(lines); i++ {
		line := lines[i]
		preLineDepth := depth
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if !entered {
			if strings.Contains(line, "{") {
				entered = true
			}
			continue
		}
		if preLineDepth != 1 {
			continue // nested block, not a direct member declaration
		}
		lineNo := i + 1
		if m := reFn.FindStringSubmatch(line); m != nil {
			end := closingLine(lines, i)
			out = append(out, Record{Path: path, DeclarationName: m[1], LineStart: lineNo, LineEnd: end, Category: CategoryImplType, ReceiverType: receiver})
		} else if m := reTypeAlias.FindStringSubmatch(line); m != nil {
			out = append(out, Record{Path: path, DeclarationName: m[1], LineStart: lineNo, LineEnd: lineNo, Category: CategoryImplType, ReceiverType: receiver})
		} else if m := reConst.FindStringSubmatch(line); m != nil {
			out = append(out, Record{Path: path, DeclarationName: m[1], LineStart: lineNo, LineEnd: lineNo, Category: CategoryImplType, ReceiverType: receiver})
		}
	}
	return out
}

var reConst = regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?const\s+([A-Za-z_][A-Za-z0-9_]*)`)

// closingLine returns the 1-based line number on which the brace opened on
// lines[openIdx] (or the first line after it that opens one) closes.
func closingLine(lines []string, openIdx int) int {
	depth := 0
	entered := false
	for i := openIdx; i < len(lines); i++ {
		if !entered && !strings.Contains(lines[i], "{") && strings.HasSuffix(strings.TrimSpace(lines[i]), ";") {
			// A declaration with no body (e.g. a trait method signature
			// ending in ';') ends on the line bearing its ';'.
			return i + 1
		}
		depth += strings.Count(lines[i], "{") - strings.Count(lines[i], "}")
		if strings.Contains(lines[i], "{") {
			entered = true
		}
		if entered && depth == 0 {
			return i + 1
		}
	}
	// No closing brace found; fall back to the first line bearing a ';',
	// or the declaration's own line.
	for i := openIdx; i < len(lines); i++ {
		if strings.Contains(lines[i], ";") {
			return i + 1
		}
	}
	return openIdx + 1
}

func closingSemicolonLine(lines []string, openIdx int) int {
	for i := openIdx; i < len(lines); i++ {
		if strings.Contains(lines[i], ";") {
			return i + 1
		}
	}
	return openIdx + 1
}

func splitLines(data []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

// Query filters a memoized record set (spec §4.F find_items).
type Query struct {
	Category   Category // CategoryAll matches everything
	Name       string   // case-insensitive substring match against DeclarationName
	PathPrefix string
}

// Find returns every record in records matching q, preserving the
// (path, line_start) ordering Build already established.
func Find(records []Record, q Query) []Record {
	nameLower := strings.ToLower(q.Name)

	var out []Record
	for _, r := range records {
		if q.Category != "" && q.Category != CategoryAll && r.Category != q.Category {
			continue
		}
		if q.PathPrefix != "" && !strings.HasPrefix(r.Path, q.PathPrefix) {
			continue
		}
		if nameLower != "" && !strings.Contains(strings.ToLower(r.DeclarationName), nameLower) {
			continue
		}
		out = append(out, r)
	}
	return out
}
