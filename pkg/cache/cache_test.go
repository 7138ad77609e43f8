package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cratescope/cratescope/pkg/common"
	"github.com/cratescope/cratescope/pkg/metrics"
	"github.com/cratescope/cratescope/pkg/snapshot"
)

func snapOf(key common.CrateKey, sizeBytes int) *snapshot.Snapshot {
	b := snapshot.NewBuilder(key)
	b.AddFile("lib.rs", make([]byte, sizeBytes))
	return b.Freeze()
}

type counterLoader struct {
	mu    sync.Mutex
	calls map[common.CrateKey]int
	delay time.Duration
	size  int
}

func newCounterLoader(size int) *counterLoader {
	return &counterLoader{calls: make(map[common.CrateKey]int), size: size}
}

func (l *counterLoader) Load(ctx context.Context, key common.CrateKey) (*snapshot.Snapshot, error) {
	l.mu.Lock()
	l.calls[key]++
	l.mu.Unlock()
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	return snapOf(key, l.size), nil
}

func (l *counterLoader) callCount(key common.CrateKey) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[key]
}

func TestCache_GetOrLoad_MissThenHit(t *testing.T) {
	loader := newCounterLoader(10)
	c := New(loader, 1<<20, 0)
	key := common.CrateKey{Name: "serde", Version: "1.0.0"}

	snap, err := c.GetOrLoad(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, 1, loader.callCount(key))

	snap2, err := c.GetOrLoad(context.Background(), key)
	require.NoError(t, err)
	require.Same(t, snap, snap2)
	require.Equal(t, 1, loader.callCount(key))

	stats := c.Stats()
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)
}

// TestCache_EvictsLeastRecentlyUsed reproduces spec §8 scenario 6: with a
// capacity of two entries, loading A, B, C in order evicts A; a
// subsequent get(A) must trigger a brand new fetch.
func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	loader := newCounterLoader(1)
	c := New(loader, 1<<20, 2)

	a := common.CrateKey{Name: "a", Version: "1.0.0"}
	b := common.CrateKey{Name: "b", Version: "1.0.0"}
	cc := common.CrateKey{Name: "c", Version: "1.0.0"}

	_, err := c.GetOrLoad(context.Background(), a)
	require.NoError(t, err)
	_, err = c.GetOrLoad(context.Background(), b)
	require.NoError(t, err)
	_, err = c.GetOrLoad(context.Background(), cc)
	require.NoError(t, err)

	require.Equal(t, int64(1), c.Stats().Evictions)

	_, err = c.GetOrLoad(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, 2, loader.callCount(a))
}

func TestCache_RecencyProtectsFromEviction(t *testing.T) {
	loader := newCounterLoader(1)
	c := New(loader, 1<<20, 2)

	a := common.CrateKey{Name: "a", Version: "1.0.0"}
	b := common.CrateKey{Name: "b", Version: "1.0.0"}
	cc := common.CrateKey{Name: "c", Version: "1.0.0"}

	_, _ = c.GetOrLoad(context.Background(), a)
	_, _ = c.GetOrLoad(context.Background(), b)
	_, _ = c.GetOrLoad(context.Background(), a) // touch a, b is now LRU
	_, _ = c.GetOrLoad(context.Background(), cc)

	require.Equal(t, 1, loader.callCount(a))
	_, _ = c.GetOrLoad(context.Background(), b)
	require.Equal(t, 2, loader.callCount(b))
}

func TestCache_ByteCapacityEvictsEvenUnderMaxEntries(t *testing.T) {
	loader := newCounterLoader(100)
	c := New(loader, 150, 0)

	a := common.CrateKey{Name: "a", Version: "1.0.0"}
	b := common.CrateKey{Name: "b", Version: "1.0.0"}

	_, _ = c.GetOrLoad(context.Background(), a)
	_, _ = c.GetOrLoad(context.Background(), b)

	require.Equal(t, int64(1), c.Stats().Evictions)
	require.Equal(t, 1, c.Stats().Entries)
}

func TestCache_SingleFlight_OneLoadPerKeyUnderConcurrency(t *testing.T) {
	loader := newCounterLoader(10)
	loader.delay = 50 * time.Millisecond
	c := New(loader, 1<<20, 0)
	key := common.CrateKey{Name: "tokio", Version: "1.0.0"}

	var wg sync.WaitGroup
	var successes int64
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetOrLoad(context.Background(), key); err == nil {
				atomic.AddInt64(&successes, 1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(20), successes)
	require.Equal(t, 1, loader.callCount(key))
}

func TestCache_GetOrLoad_CtxCancelledDoesNotAbortOtherWaiters(t *testing.T) {
	loader := newCounterLoader(5)
	loader.delay = 100 * time.Millisecond
	c := New(loader, 1<<20, 0)
	key := common.CrateKey{Name: "rand", Version: "0.8.5"}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.GetOrLoad(ctx, key)
	require.Error(t, err)
	require.Equal(t, common.CodeCancelled, common.CodeOf(err))

	// The in-flight load should still complete and populate the cache for
	// a patient caller, since Load runs on context.Background() inside
	// the singleflight group rather than the cancelled caller's ctx.
	snap, err := c.GetOrLoad(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, snap)
}

func TestCache_GetOrLoad_RecordsMetrics(t *testing.T) {
	loader := newCounterLoader(10)
	c := New(loader, 1<<20, 0)
	key := common.CrateKey{Name: "metrics-probe", Version: "1.0.0"}

	before := metrics.Global.Snapshot()
	_, err := c.GetOrLoad(context.Background(), key) // miss
	require.NoError(t, err)
	_, err = c.GetOrLoad(context.Background(), key) // hit
	require.NoError(t, err)
	after := metrics.Global.Snapshot()

	require.Equal(t, before.CacheMissesTotal+1, after.CacheMissesTotal)
	require.Equal(t, before.CacheHitsTotal+1, after.CacheHitsTotal)
	require.Equal(t, int64(10), metrics.Global.CacheBytesTotal[key])
}

func TestCache_PurgeAndClear(t *testing.T) {
	loader := newCounterLoader(10)
	c := New(loader, 1<<20, 0)
	key := common.CrateKey{Name: "serde", Version: "1.0.0"}

	_, _ = c.GetOrLoad(context.Background(), key)
	require.Equal(t, 1, c.Stats().Entries)

	c.Purge(key)
	require.Equal(t, 0, c.Stats().Entries)

	_, _ = c.GetOrLoad(context.Background(), key)
	c.Clear()
	require.Equal(t, 0, c.Stats().Entries)
	require.Equal(t, int64(0), c.Stats().Bytes)
}
