package facade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cratescope/cratescope/pkg/cache"
	"github.com/cratescope/cratescope/pkg/common"
	"github.com/cratescope/cratescope/pkg/items"
	"github.com/cratescope/cratescope/pkg/metrics"
	"github.com/cratescope/cratescope/pkg/search"
	"github.com/cratescope/cratescope/pkg/snapshot"
)

type fakeLoader struct {
	key   common.CrateKey
	files map[string]string
}

func (l *fakeLoader) Load(ctx context.Context, key common.CrateKey) (*snapshot.Snapshot, error) {
	if key != l.key {
		return nil, common.NewError(common.CodeNotFound, "no such crate: "+key.String(), nil)
	}
	b := snapshot.NewBuilder(key)
	for p, content := range l.files {
		b.AddFile(p, []byte(content))
	}
	return b.Freeze(), nil
}

func newTestFacade() (*Facade, common.CrateKey) {
	key := common.CrateKey{Name: "serde", Version: "1.0.0"}
	loader := &fakeLoader{key: key, files: map[string]string{
		"Cargo.toml":  "[package]\nname = \"serde\"\n",
		"src/lib.rs":  "pub struct Foo {}\npub fn hello() {}\n",
		"src/de.rs":   "pub trait Deserialize {}\n",
	}}
	c := cache.New(loader, 1<<20, 0)
	return New(c, 4), key
}

func TestFacade_Directory(t *testing.T) {
	f, key := newTestFacade()
	entries, err := f.Directory(context.Background(), key, "")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	require.Contains(t, names, "Cargo.toml")
	require.Contains(t, names, "src")
}

func TestFacade_File_RangedRead(t *testing.T) {
	f, key := newTestFacade()
	text, err := f.File(context.Background(), key, "src/lib.rs", 1, 1)
	require.NoError(t, err)
	require.Equal(t, "pub struct Foo {}", text)
}

func TestFacade_Lines_Search(t *testing.T) {
	f, key := newTestFacade()
	matches, err := f.Lines(context.Background(), key, search.Request{Query: "hello", Mode: search.ModePlainText})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "src/lib.rs", matches[0].Path)
}

func TestFacade_Items_Search(t *testing.T) {
	f, key := newTestFacade()
	records, err := f.Items(context.Background(), key, items.Query{Category: items.CategoryTrait})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "Deserialize", records[0].DeclarationName)
}

func TestFacade_UnknownCrate_NotFound(t *testing.T) {
	f, _ := newTestFacade()
	_, err := f.Directory(context.Background(), common.CrateKey{Name: "nope", Version: "0.0.0"}, "")
	require.Error(t, err)
	require.Equal(t, common.CodeNotFound, common.CodeOf(err))
}

func TestFacade_BadPathRejected(t *testing.T) {
	f, key := newTestFacade()
	_, err := f.File(context.Background(), key, "../escape", 0, 0)
	require.Error(t, err)
	require.Equal(t, common.CodeBadPath, common.CodeOf(err))
}

func TestFacade_Lines_RecordsSearchMetrics(t *testing.T) {
	f, key := newTestFacade()
	callsBefore := metrics.Global.SearchCallsTotal[key]
	resultsBefore := metrics.Global.SearchResultsTotal[key]

	_, err := f.Lines(context.Background(), key, search.Request{Query: "hello", Mode: search.ModePlainText})
	require.NoError(t, err)

	require.Equal(t, callsBefore+1, metrics.Global.SearchCallsTotal[key])
	require.Equal(t, resultsBefore+1, metrics.Global.SearchResultsTotal[key])
}

func TestFacade_Items_RecordsIndexBuildMetrics(t *testing.T) {
	f, key := newTestFacade()
	before := metrics.Global.IndexBuildsTotal[key]

	_, err := f.Items(context.Background(), key, items.Query{Category: items.CategoryTrait})
	require.NoError(t, err)

	require.Equal(t, before+1, metrics.Global.IndexBuildsTotal[key])
}
