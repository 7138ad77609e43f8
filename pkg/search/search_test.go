package search

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cratescope/cratescope/pkg/common"
	"github.com/cratescope/cratescope/pkg/snapshot"
)

func buildSnapshot(t *testing.T, files map[string]string) *snapshot.Snapshot {
	t.Helper()
	b := snapshot.NewBuilder(common.CrateKey{Name: "serde", Version: "1.0.0"})
	for p, content := range files {
		require.True(t, b.AddFile(p, []byte(content)))
	}
	return b.Freeze()
}

func TestSearch_PlainText_CaseInsensitiveByDefault(t *testing.T) {
	snap := buildSnapshot(t, map[string]string{
		"src/lib.rs": "pub fn Deserialize() {}\nfn other() {}\n",
	})

	matches, err := Search(snap, Request{Query: "deserialize", Mode: ModePlainText})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, 1, matches[0].LineNumber)
}

func TestSearch_WholeWord(t *testing.T) {
	snap := buildSnapshot(t, map[string]string{
		"src/lib.rs": "fn newer() {}\nfn new() {}\n",
	})

	matches, err := Search(snap, Request{Query: "new", Mode: ModePlainText, WholeWord: true})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, 2, matches[0].LineNumber)
}

func TestSearch_Regex_ColumnStartAtMatch(t *testing.T) {
	snap := buildSnapshot(t, map[string]string{
		"src/lib.rs": "impl Foo { fn new() -> Self {} }\n",
	})

	matches, err := Search(snap, Request{Query: `fn\s+new\b`, Mode: ModeRegex, FileExt: "rs"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, 11, matches[0].ColumnStart)
}

func TestSearch_InvalidRegex(t *testing.T) {
	snap := buildSnapshot(t, map[string]string{"a.rs": "x"})
	_, err := Search(snap, Request{Query: "(unterminated", Mode: ModeRegex})
	require.Error(t, err)
	require.Equal(t, common.CodeInvalidQuery, common.CodeOf(err))
}

func TestSearch_FileExtAndPathFilters(t *testing.T) {
	snap := buildSnapshot(t, map[string]string{
		"src/lib.rs":    "needle here",
		"src/main.rs":   "no match",
		"README.md":     "needle in markdown",
		"tests/it.rs":   "needle in tests",
	})

	matches, err := Search(snap, Request{Query: "needle", Mode: ModePlainText, FileExt: "rs", Path: "src"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "src/lib.rs", matches[0].Path)
}

func TestSearch_MaxResultsCap(t *testing.T) {
	snap := buildSnapshot(t, map[string]string{
		"a.rs": "needle\nneedle\nneedle\n",
	})

	matches, err := Search(snap, Request{Query: "needle", Mode: ModePlainText, MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, matches, 2)
}

func TestSearch_SkipsBinaryFiles(t *testing.T) {
	binary := append([]byte("needle"), 0x00, 0x01, 0x02)
	b := snapshot.NewBuilder(common.CrateKey{Name: "x", Version: "1.0.0"})
	require.True(t, b.AddFile("blob.bin", binary))
	snap := b.Freeze()

	matches, err := Search(snap, Request{Query: "needle", Mode: ModePlainText})
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestSearch_OnlyFirstMatchPerLine(t *testing.T) {
	snap := buildSnapshot(t, map[string]string{
		"a.rs": "needle needle needle\n",
	})
	matches, err := Search(snap, Request{Query: "needle", Mode: ModePlainText})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, 0, matches[0].ColumnStart)
}

func TestSearch_BadPathFilterRejected(t *testing.T) {
	snap := buildSnapshot(t, map[string]string{"a.rs": "needle"})
	_, err := Search(snap, Request{Query: "needle", Mode: ModePlainText, Path: "../escape"})
	require.Error(t, err)
	require.Equal(t, common.CodeBadPath, common.CodeOf(err))
}

func TestSearch_DeterministicOrdering(t *testing.T) {
	snap := buildSnapshot(t, map[string]string{
		"b.rs": "needle\n",
		"a.rs": "needle\nneedle\n",
	})
	matches, err := Search(snap, Request{Query: "needle", Mode: ModePlainText})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	require.Equal(t, "a.rs", matches[0].Path)
	require.Equal(t, 1, matches[0].LineNumber)
	require.Equal(t, "a.rs", matches[1].Path)
	require.Equal(t, 2, matches[1].LineNumber)
	require.Equal(t, "b.rs", matches[2].Path)
}
