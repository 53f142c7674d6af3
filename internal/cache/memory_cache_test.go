package cache

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestMemory(t *testing.T, capacity int64, opts ...MemoryOption) *MemoryCache {
	t.Helper()
	c, err := NewMemory(capacity, opts...)
	require.NoError(t, err)
	return c
}

// assertConsistent checks the accounting invariants against the stored entries.
func assertConsistent(t *testing.T, c *MemoryCache) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var sum int64
	seen := make(map[string]bool)
	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		require.True(t, ok)
		assert.False(t, seen[key], "duplicate key %s", key)
		assert.Equal(t, key, e.key)
		seen[key] = true
		sum += e.size
	}
	assert.Equal(t, len(seen), c.entries.Len())
	assert.Equal(t, sum, c.usage)
	assert.LessOrEqual(t, c.usage, c.capacity)
}

func TestNewMemory(t *testing.T) {
	c, err := NewMemory(1024)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), c.Capacity())
	assert.Equal(t, int64(0), c.CurrentUsage())
	assert.Equal(t, 0, c.Len())

	for _, capacity := range []int64{0, -1} {
		_, err := NewMemory(capacity)
		assert.ErrorIs(t, err, ErrInvalidCapacity)
	}
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	c := newTestMemory(t, 100)

	require.NoError(t, c.Put("a", []byte("a"), 40))
	require.NoError(t, c.Put("b", []byte("b"), 40))
	require.NoError(t, c.Put("c", []byte("c"), 40))

	_, found := c.Get("a")
	assert.False(t, found, "a should have been evicted")
	assert.Equal(t, []string{"c", "b"}, c.Keys())
	assert.Equal(t, int64(80), c.CurrentUsage())

	_, found = c.Get("b")
	require.True(t, found)
	require.NoError(t, c.Put("d", []byte("d"), 40))

	_, found = c.Get("c")
	assert.False(t, found, "c should have been evicted after b was refreshed")
	assert.ElementsMatch(t, []string{"b", "d"}, c.Keys())
	assert.Equal(t, int64(80), c.CurrentUsage())
	assertConsistent(t, c)
}

func TestMemoryEvictsInInsertionOrderWhenUntouched(t *testing.T) {
	c := newTestMemory(t, 100)

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Put(fmt.Sprintf("k%d", i), nil, 10))
	}
	// One entry of 35 needs four victims: the four oldest.
	require.NoError(t, c.Put("big", nil, 35))

	for i := 0; i < 4; i++ {
		_, found := c.Get(fmt.Sprintf("k%d", i))
		assert.False(t, found, "k%d should have been evicted", i)
	}
	for i := 4; i < 10; i++ {
		_, found := c.Get(fmt.Sprintf("k%d", i))
		assert.True(t, found, "k%d should still be cached", i)
	}
	assert.Equal(t, int64(95), c.CurrentUsage())
	assertConsistent(t, c)
}

func TestMemoryPutReplacesExistingKey(t *testing.T) {
	c := newTestMemory(t, 100)

	require.NoError(t, c.Put("a", []byte("old"), 30))
	require.NoError(t, c.Put("b", []byte("b"), 30))
	require.NoError(t, c.Put("a", []byte("new"), 50))

	assert.Equal(t, int64(80), c.CurrentUsage())
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"a", "b"}, c.Keys())

	data, found := c.Get("a")
	require.True(t, found)
	assert.Equal(t, []byte("new"), data)

	// Growing an entry to the full capacity evicts everything else but not itself.
	require.NoError(t, c.Put("a", []byte("full"), 100))
	assert.Equal(t, []string{"a"}, c.Keys())
	assert.Equal(t, int64(100), c.CurrentUsage())
	assertConsistent(t, c)
}

func TestMemoryRejectsTooLargeWithoutChangingState(t *testing.T) {
	c := newTestMemory(t, 100)

	require.NoError(t, c.Put("a", []byte("a"), 40))
	require.NoError(t, c.Put("b", []byte("b"), 40))

	keysBefore := c.Keys()
	usageBefore := c.CurrentUsage()

	err := c.Put("a", []byte("huge"), 101)
	assert.ErrorIs(t, err, ErrEntryTooLarge)

	err = c.Put("new", []byte("huge"), 101)
	assert.ErrorIs(t, err, ErrEntryTooLarge)

	assert.Equal(t, keysBefore, c.Keys())
	assert.Equal(t, usageBefore, c.CurrentUsage())

	data, found := c.Get("a")
	require.True(t, found, "existing key must survive a rejected replacement")
	assert.Equal(t, []byte("a"), data)
	assert.Equal(t, uint64(2), c.Stats().Rejections)
	assertConsistent(t, c)
}

func TestMemoryRejectsInvalidInput(t *testing.T) {
	c := newTestMemory(t, 100)

	assert.ErrorIs(t, c.Put("a", []byte("a"), -1), ErrInvalidSize)
	assert.ErrorIs(t, c.Put("", []byte("a"), 1), ErrInvalidKey)

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.CurrentUsage())
}

func TestMemoryZeroSizeEntries(t *testing.T) {
	c := newTestMemory(t, 10)

	require.NoError(t, c.Put("empty", nil, 0))
	require.NoError(t, c.Put("full", []byte("0123456789"), 10))

	data, found := c.Get("empty")
	require.True(t, found)
	assert.Empty(t, data)
	assert.Equal(t, int64(10), c.CurrentUsage())
	assertConsistent(t, c)
}

func TestMemoryRemove(t *testing.T) {
	c := newTestMemory(t, 100)

	require.NoError(t, c.Put("a", []byte("a"), 10))
	require.NoError(t, c.Put("b", []byte("b"), 20))

	c.Remove("a")
	_, found := c.Get("a")
	assert.False(t, found)
	assert.Equal(t, int64(20), c.CurrentUsage())

	// Absent key is a no-op
	c.Remove("a")
	c.Remove("missing")
	assert.Equal(t, int64(20), c.CurrentUsage())
	assertConsistent(t, c)
}

func TestMemoryClearIsIdempotent(t *testing.T) {
	c := newTestMemory(t, 100)

	keys := []string{"a", "b", "c"}
	for _, k := range keys {
		require.NoError(t, c.Put(k, []byte(k), 10))
	}

	c.Clear()
	c.Clear()

	assert.Equal(t, int64(0), c.CurrentUsage())
	assert.Equal(t, 0, c.Len())
	for _, k := range keys {
		_, found := c.Get(k)
		assert.False(t, found, "%s should be gone after Clear", k)
	}

	// Still usable afterwards
	require.NoError(t, c.Put("d", []byte("d"), 100))
	assertConsistent(t, c)
}

func TestMemoryPayloadHasValueSemantics(t *testing.T) {
	c := newTestMemory(t, 100)

	payload := []byte("original")
	require.NoError(t, c.Put("k", payload, int64(len(payload))))
	copy(payload, "MUTATED!")

	got, found := c.Get("k")
	require.True(t, found)
	assert.Equal(t, []byte("original"), got)

	copy(got, "MUTATED!")
	again, _ := c.Get("k")
	assert.Equal(t, []byte("original"), again)
}

func TestMemoryEvictionHookMayReenter(t *testing.T) {
	var evicted []string
	var c *MemoryCache
	c = newTestMemory(t, 20, WithEvictionHook(func(key string, size int64) {
		evicted = append(evicted, key)
		// Calling back into the cache from the hook must not deadlock
		_ = c.CurrentUsage()
	}))

	require.NoError(t, c.Put("a", nil, 10))
	require.NoError(t, c.Put("b", nil, 10))
	require.NoError(t, c.Put("c", nil, 20))

	assert.Equal(t, []string{"a", "b"}, evicted)
	assert.Equal(t, uint64(2), c.Stats().Evictions)
}

func TestMemoryGenericCacheAdapter(t *testing.T) {
	var generic GenericCache = newTestMemory(t, 8)

	require.NoError(t, generic.Init())
	require.NoError(t, generic.Set("k", []byte("1234")))

	data, found := generic.Get("k")
	require.True(t, found)
	assert.Equal(t, []byte("1234"), data)

	err := generic.Set("too-big", []byte("123456789"))
	assert.ErrorIs(t, err, ErrEntryTooLarge)
}

func TestMemoryStats(t *testing.T) {
	c := newTestMemory(t, 30)

	require.NoError(t, c.Put("a", nil, 10))
	require.NoError(t, c.Put("b", nil, 20))
	c.Get("a")
	c.Get("missing")
	require.NoError(t, c.Put("c", nil, 20)) // evicts b
	_ = c.Put("d", nil, 31)

	assert.Equal(t, Stats{
		Entries:    2,
		Usage:      30,
		Capacity:   30,
		Hits:       1,
		Misses:     1,
		Evictions:  1,
		Rejections: 1,
	}, c.Stats())
}

func TestMemoryMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	c := newTestMemory(t, 100, WithMetrics(m))

	assert.Equal(t, float64(100), testutil.ToFloat64(m.Capacity))

	require.NoError(t, c.Put("a", nil, 60))
	require.NoError(t, c.Put("b", nil, 60))
	c.Get("b")
	c.Get("a")
	_ = c.Put("c", nil, 200)
	_ = c.Put("d", nil, -5)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Hits))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Misses))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Evictions))
	assert.Equal(t, float64(60), testutil.ToFloat64(m.UsageBytes))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Entries))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Rejections.WithLabelValues(reasonTooLarge)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Rejections.WithLabelValues(reasonInvalidSize)))

	c.Clear()
	assert.Equal(t, float64(0), testutil.ToFloat64(m.UsageBytes))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Entries))
}

// TestMemoryRandomOperations drives the cache against a reference LRU model.
func TestMemoryRandomOperations(t *testing.T) {
	const capacity = 500
	c := newTestMemory(t, capacity)
	rng := rand.New(rand.NewSource(42))

	// model: most recently used first
	type item struct {
		key  string
		size int64
	}
	var model []item
	indexOf := func(key string) int {
		for i, it := range model {
			if it.key == key {
				return i
			}
		}
		return -1
	}
	modelUsage := func() int64 {
		var sum int64
		for _, it := range model {
			sum += it.size
		}
		return sum
	}

	for i := 0; i < 5000; i++ {
		key := fmt.Sprintf("k%d", rng.Intn(40))
		switch op := rng.Intn(10); {
		case op < 5:
			size := int64(rng.Intn(capacity + 50))
			err := c.Put(key, []byte(key), size)
			if size > capacity {
				require.ErrorIs(t, err, ErrEntryTooLarge)
				break
			}
			require.NoError(t, err)
			if idx := indexOf(key); idx >= 0 {
				model = append(model[:idx], model[idx+1:]...)
			}
			for modelUsage()+size > capacity {
				model = model[:len(model)-1]
			}
			model = append([]item{{key, size}}, model...)
		case op < 8:
			_, found := c.Get(key)
			idx := indexOf(key)
			require.Equal(t, idx >= 0, found, "presence of %s", key)
			if idx >= 0 {
				it := model[idx]
				model = append(model[:idx], model[idx+1:]...)
				model = append([]item{it}, model...)
			}
		case op < 9:
			c.Remove(key)
			if idx := indexOf(key); idx >= 0 {
				model = append(model[:idx], model[idx+1:]...)
			}
		default:
			if rng.Intn(20) == 0 {
				c.Clear()
				model = nil
			}
		}

		want := make([]string, len(model))
		for j, it := range model {
			want[j] = it.key
		}
		require.Equal(t, want, c.Keys(), "step %d", i)
		require.Equal(t, modelUsage(), c.CurrentUsage(), "step %d", i)
	}
	assertConsistent(t, c)
}

func TestMemoryConcurrentAccess(t *testing.T) {
	const (
		workers  = 32
		perKey   = 64
		capacity = 1000 * perKey / 2
	)
	c := newTestMemory(t, capacity)

	var overshoot atomic.Bool
	stop := make(chan struct{})
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		for {
			select {
			case <-stop:
				return
			default:
				if c.CurrentUsage() > c.Capacity() {
					overshoot.Store(true)
				}
			}
		}
	}()

	var puts errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		puts.Go(func() error {
			for i := 0; i < 1000/workers+1; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				if err := c.Put(key, []byte(key), perKey); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, puts.Wait())

	survivors := c.Keys()
	require.NotEmpty(t, survivors)

	var gets errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		gets.Go(func() error {
			for i := w; i < len(survivors); i += workers {
				data, found := c.Get(survivors[i])
				if !found {
					return fmt.Errorf("%s was not retrievable", survivors[i])
				}
				if string(data) != survivors[i] {
					return fmt.Errorf("%s returned %q", survivors[i], data)
				}
			}
			return nil
		})
	}
	require.NoError(t, gets.Wait())

	close(stop)
	<-monitorDone

	assert.False(t, overshoot.Load(), "usage exceeded capacity")
	assert.Equal(t, int64(len(survivors))*perKey, c.CurrentUsage())
	assertConsistent(t, c)
}
