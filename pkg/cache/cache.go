// Package cache implements the Crate Cache (spec §4.C): a byte-budgeted,
// strictly-LRU bounded cache of *snapshot.Snapshot keyed by CrateKey, with
// single-flight coalescing of concurrent misses for the same key.
package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/cratescope/cratescope/pkg/common"
	"github.com/cratescope/cratescope/pkg/metrics"
	"github.com/cratescope/cratescope/pkg/snapshot"
)

// Loader fetches and builds a Snapshot for key, or returns a *common.Error.
// Implemented by pkg/registry.Loader; kept as a narrow interface here so
// pkg/cache has no dependency on HTTP or AWS concerns.
type Loader interface {
	Load(ctx context.Context, key common.CrateKey) (*snapshot.Snapshot, error)
}

type entry struct {
	key  common.CrateKey
	snap *snapshot.Snapshot
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries   int
	Bytes     int64
	Hits      int64
	Misses    int64
	Evictions int64
}

// Cache is a fixed byte-capacity LRU of snapshots (spec §4.C).
type Cache struct {
	capacityBytes int64
	maxEntries    int // secondary safety cap; 0 means unbounded

	mu        sync.Mutex
	ll        *list.List               // front = most recently used
	byKey     map[common.CrateKey]*list.Element
	usedBytes int64

	hits, misses, evictions int64

	loader Loader
	group  singleflight.Group // one in-flight loader per key, spec §4.C
}

// New builds a Cache bounded by capacityBytes that delegates misses to
// loader. maxEntries is a secondary safety cap (0 disables it); spec §6
// allows either an entry-count or a byte-size limit, and this
// implementation enforces both.
func New(loader Loader, capacityBytes int64, maxEntries int) *Cache {
	return &Cache{
		capacityBytes: capacityBytes,
		maxEntries:    maxEntries,
		ll:            list.New(),
		byKey:         make(map[common.CrateKey]*list.Element),
		loader:        loader,
	}
}

// GetOrLoad returns the snapshot for key, loading it on a miss. Concurrent
// callers for the same key observe exactly one Loader.Load call and share
// its outcome (spec §4.C single-flight guarantee). A cancelled ctx stops
// this caller from waiting without affecting other waiters or the
// in-flight load itself (spec §5).
func (c *Cache) GetOrLoad(ctx context.Context, key common.CrateKey) (*snapshot.Snapshot, error) {
	if snap, ok := c.touch(key); ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		metrics.RecordCacheOperation(key, true, snap.TotalBytes())
		return snap, nil
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()

	type result struct {
		snap *snapshot.Snapshot
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
			// Re-check: another goroutine may have admitted this key
			// while we waited to enter the singleflight group.
			if snap, ok := c.touch(key); ok {
				return snap, nil
			}
			snap, loadErr := c.loader.Load(context.Background(), key)
			if loadErr != nil {
				return nil, loadErr
			}
			c.admit(key, snap)
			return snap, nil
		})
		if err != nil {
			resultCh <- result{nil, err}
			return
		}
		snap := v.(*snapshot.Snapshot)
		metrics.RecordCacheOperation(key, false, snap.TotalBytes())
		resultCh <- result{snap, nil}
	}()

	select {
	case r := <-resultCh:
		return r.snap, r.err
	case <-ctx.Done():
		return nil, common.NewError(common.CodeCancelled, "get_or_load cancelled", ctx.Err())
	}
}

// touch promotes key to most-recently-used and returns its snapshot, or
// ok=false on a miss.
func (c *Cache) touch(key common.CrateKey) (*snapshot.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.byKey[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).snap, true
}

// admit inserts snap under key at the front of the LRU, evicting
// least-recently-used entries until the byte budget is satisfied.
func (c *Cache) admit(key common.CrateKey, snap *snapshot.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.byKey[key]; ok {
		// Lost the race with another admitter for the same key; keep the
		// existing entry and drop this one.
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{key: key, snap: snap})
	c.byKey[key] = el
	c.usedBytes += snap.TotalBytes()

	for c.ll.Len() > 1 && (c.usedBytes > c.capacityBytes || (c.maxEntries > 0 && c.ll.Len() > c.maxEntries)) {
		c.evictOldestLocked()
	}

	log.Debug().
		Str("key", key.String()).
		Str("size", humanize.Bytes(uint64(snap.TotalBytes()))).
		Str("used", humanize.Bytes(uint64(c.usedBytes))).
		Str("capacity", humanize.Bytes(uint64(c.capacityBytes))).
		Msg("cache: admitted snapshot")
}

// evictOldestLocked removes the least-recently-used entry. Caller must
// hold c.mu.
func (c *Cache) evictOldestLocked() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	ent := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.byKey, ent.key)
	c.usedBytes -= ent.snap.TotalBytes()
	c.evictions++

	log.Debug().
		Str("key", ent.key.String()).
		Msg("cache: evicted snapshot (LRU)")
}

// Purge removes key from the cache if present.
func (c *Cache) Purge(key common.CrateKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.byKey[key]
	if !ok {
		return
	}
	ent := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.byKey, key)
	c.usedBytes -= ent.snap.TotalBytes()
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.byKey = make(map[common.CrateKey]*list.Element)
	c.usedBytes = 0
}

// Stats reports current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   c.ll.Len(),
		Bytes:     c.usedBytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
