// Handles caching of HTTP responses
package cache

// GenericCache is the backend contract shared by the memory and disk tiers.
// Keys are opaque strings produced by the HTTP layer.
type GenericCache interface {
	// retrieves cached data if it exists (and, for expiring backends, is not expired)
	Get(key string) ([]byte, bool)
	// stores data under key, replacing any previous value
	Set(key string, value []byte) error
	// drops a single key; absent keys are ignored
	Remove(key string)
	// drops every key
	Clear()
	// initializes the cache (e.g., creates necessary directories)
	Init() error
}

// BoundedCache is a capacity-bounded store. Size is the byte cost the caller
// charges against the capacity, not necessarily len(payload).
type BoundedCache interface {
	Put(key string, payload []byte, size int64) error
	Get(key string) ([]byte, bool)
	Remove(key string)
	Clear()
	CurrentUsage() int64
	Capacity() int64
}

// Stats is a point-in-time view of a cache's counters.
type Stats struct {
	Entries    int    `json:"entries"`
	Usage      int64  `json:"usage_bytes"`
	Capacity   int64  `json:"capacity_bytes"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Evictions  uint64 `json:"evictions"`
	Rejections uint64 `json:"rejections"`
}

// StatsProvider is implemented by backends that keep usage counters.
type StatsProvider interface {
	Stats() Stats
}

// KeyLister is implemented by backends that can enumerate their keys.
type KeyLister interface {
	Keys() []string
}
