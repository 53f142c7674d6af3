package cache

import (
	"bytes"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultCapacity is the memory budget used when none is configured.
const DefaultCapacity int64 = 20 * 1024 * 1024

type memoryEntry struct {
	key     string
	payload []byte
	size    int64
}

type eviction struct {
	key  string
	size int64
}

// MemoryCache is a capacity-bounded LRU cache of response payloads.
//
// The recency index and the usage counter form one unit of state guarded by
// mu. The index itself is unbounded by count; eviction is driven by the byte
// budget, oldest first, so untouched entries leave in insertion order.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int64
	usage    int64
	entries  *simplelru.LRU[string, *memoryEntry]

	hits       uint64
	misses     uint64
	evictions  uint64
	rejections uint64

	metrics *Metrics
	onEvict func(key string, size int64)
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithMetrics reports cache activity to the given collectors.
func WithMetrics(m *Metrics) MemoryOption {
	return func(c *MemoryCache) {
		c.metrics = m
	}
}

// WithEvictionHook registers fn to be called for every evicted entry.
// fn runs after the cache lock is released and may call back into the cache.
func WithEvictionHook(fn func(key string, size int64)) MemoryOption {
	return func(c *MemoryCache) {
		c.onEvict = fn
	}
}

// NewMemory creates a memory cache holding at most capacity bytes.
func NewMemory(capacity int64, opts ...MemoryOption) (*MemoryCache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	// Evictions are done by hand so that the byte accounting stays exact;
	// the count limit is never reached.
	entries, err := simplelru.NewLRU[string, *memoryEntry](math.MaxInt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create recency index: %w", err)
	}

	c := &MemoryCache{
		capacity: capacity,
		entries:  entries,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.metrics != nil {
		c.metrics.Capacity.Set(float64(capacity))
	}

	return c, nil
}

// Put stores payload under key, charging size bytes against the capacity.
// Least recently used entries are evicted until the new entry fits.
// A failed Put leaves the cache unchanged.
func (c *MemoryCache) Put(key string, payload []byte, size int64) error {
	if key == "" {
		c.reject(reasonInvalidKey)
		return ErrInvalidKey
	}
	if size < 0 {
		c.reject(reasonInvalidSize)
		return fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if size > c.capacity {
		c.reject(reasonTooLarge)
		return fmt.Errorf("%w: %s needs %d bytes, capacity is %d", ErrEntryTooLarge, key, size, c.capacity)
	}

	stored := make([]byte, len(payload))
	copy(stored, payload)

	c.mu.Lock()
	c.unlink(key)

	var evicted []eviction
	for c.usage+size > c.capacity {
		_, e, ok := c.entries.RemoveOldest()
		if !ok {
			break
		}
		c.usage -= e.size
		evicted = append(evicted, eviction{key: e.key, size: e.size})
	}

	c.entries.Add(key, &memoryEntry{
		key:     key,
		payload: stored,
		size:    size,
	})
	c.usage += size
	c.evictions += uint64(len(evicted))
	c.updateGauges()
	c.mu.Unlock()

	c.reportEvictions(evicted)
	return nil
}

// Get returns a copy of the payload stored under key and marks the entry as
// most recently used.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	e, ok := c.entries.Get(key)
	if !ok {
		c.misses++
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.Misses.Inc()
		}
		return nil, false
	}
	c.hits++
	payload := e.payload
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.Hits.Inc()
	}
	// stored payloads are never written after insertion, so copying outside the lock is safe
	return bytes.Clone(payload), true
}

// Remove drops key if present.
func (c *MemoryCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unlink(key) {
		c.updateGauges()
	}
}

// Clear drops every entry.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Purge()
	c.usage = 0
	c.updateGauges()
}

// CurrentUsage returns the sum of the sizes of all stored entries.
func (c *MemoryCache) CurrentUsage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Capacity returns the configured capacity in bytes.
func (c *MemoryCache) Capacity() int64 {
	return c.capacity
}

// Len returns the number of stored entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Keys returns the stored keys from most to least recently used.
func (c *MemoryCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	// the index lists oldest first
	keys := c.entries.Keys()
	slices.Reverse(keys)
	return keys
}

// Stats returns a consistent snapshot of the cache counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Entries:    c.entries.Len(),
		Usage:      c.usage,
		Capacity:   c.capacity,
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		Rejections: c.rejections,
	}
}

// Set stores value charging its length against the capacity.
func (c *MemoryCache) Set(key string, value []byte) error {
	return c.Put(key, value, int64(len(value)))
}

// Init is a no-op; the memory cache needs no setup.
func (c *MemoryCache) Init() error {
	return nil
}

// unlink drops key and releases its bytes. Caller holds mu.
func (c *MemoryCache) unlink(key string) bool {
	e, ok := c.entries.Peek(key)
	if !ok {
		return false
	}
	c.entries.Remove(key)
	c.usage -= e.size
	return true
}

// updateGauges mirrors usage into the metrics. Caller holds mu.
func (c *MemoryCache) updateGauges() {
	if c.metrics == nil {
		return
	}
	c.metrics.UsageBytes.Set(float64(c.usage))
	c.metrics.Entries.Set(float64(c.entries.Len()))
}

func (c *MemoryCache) reject(reason string) {
	c.mu.Lock()
	c.rejections++
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.Rejections.WithLabelValues(reason).Inc()
	}
}

func (c *MemoryCache) reportEvictions(evicted []eviction) {
	if len(evicted) == 0 {
		return
	}
	if c.metrics != nil {
		c.metrics.Evictions.Add(float64(len(evicted)))
	}
	if c.onEvict == nil {
		return
	}
	for _, e := range evicted {
		c.onEvict(e.key, e.size)
	}
}

var (
	_ BoundedCache  = (*MemoryCache)(nil)
	_ GenericCache  = (*MemoryCache)(nil)
	_ StatsProvider = (*MemoryCache)(nil)
	_ KeyLister     = (*MemoryCache)(nil)
)
