// Package facade implements the Query Facade (spec §4.G): the single
// entry surface every caller (CLI, HTTP boundary, e2e harness) goes
// through. It coordinates cache admission and dispatches to the reader,
// searcher, and item indexer.
package facade

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cratescope/cratescope/pkg/cache"
	"github.com/cratescope/cratescope/pkg/common"
	"github.com/cratescope/cratescope/pkg/items"
	"github.com/cratescope/cratescope/pkg/metrics"
	"github.com/cratescope/cratescope/pkg/reader"
	"github.com/cratescope/cratescope/pkg/search"
	"github.com/cratescope/cratescope/pkg/snapshot"
)

// Facade is the single call surface over a Crate Cache.
type Facade struct {
	cache            *cache.Cache
	indexConcurrency int
}

// New builds a Facade over an already-configured cache. indexConcurrency
// bounds how many files pkg/items scans in parallel per Items call (spec
// §6 indexer.concurrency); values below 1 fall back to sequential scanning.
func New(c *cache.Cache, indexConcurrency int) *Facade {
	return &Facade{cache: c, indexConcurrency: indexConcurrency}
}

func (f *Facade) resolve(ctx context.Context, key common.CrateKey) (*snapshot.Snapshot, error) {
	snap, err := f.cache.GetOrLoad(ctx, key)
	if err != nil {
		log.Debug().Str("crate", key.String()).Err(err).Msg("facade: resolve failed")
		return nil, err
	}
	return snap, nil
}

// Directory lists path's immediate children, or the root if path is empty.
func (f *Facade) Directory(ctx context.Context, key common.CrateKey, path string) ([]snapshot.Entry, error) {
	snap, err := f.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return reader.ListRoot(snap), nil
	}
	return reader.ListSubdir(snap, path)
}

// File returns the selected line range of path (spec §4.D).
func (f *Facade) File(ctx context.Context, key common.CrateKey, path string, start, end int) (string, error) {
	snap, err := f.resolve(ctx, key)
	if err != nil {
		return "", err
	}
	return reader.ReadFile(snap, path, start, end)
}

// Items runs a structural declaration search (spec §4.F).
func (f *Facade) Items(ctx context.Context, key common.CrateKey, q items.Query) ([]items.Record, error) {
	snap, err := f.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	records := items.BuildOnce(snap, f.indexConcurrency)
	result := items.Find(records, q)
	metrics.RecordIndexBuild(key, len(records), time.Since(start))
	return result, nil
}

// Lines runs a full-text search (spec §4.E).
func (f *Facade) Lines(ctx context.Context, key common.CrateKey, req search.Request) ([]search.LineMatch, error) {
	snap, err := f.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	if req.Path != "" {
		// A trailing slash on the path filter is optional (pkg/search
		// strips it too), so it is not treated as an empty segment.
		if err := reader.ValidatePath(strings.TrimSuffix(req.Path, "/")); err != nil {
			return nil, err
		}
	}
	start := time.Now()
	matches, err := search.Search(snap, req)
	if err != nil {
		return nil, err
	}
	metrics.RecordSearch(key, len(matches), time.Since(start))
	return matches, nil
}
