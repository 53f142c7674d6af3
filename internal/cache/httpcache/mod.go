// Package httpcache translates HTTP requests and responses into keys and
// payloads for a cache.GenericCache backend.
package httpcache

import "github.com/iTrooz/memory-cache-proxy/internal/cache"

func New(cache cache.GenericCache) *HTTPCache {
	return &HTTPCache{
		cache: cache,
	}
}
