package proxy

import (
	"errors"
	"net/http"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/memory-cache-proxy/internal/cache"
	"github.com/iTrooz/memory-cache-proxy/internal/cache/httpcache"
	"github.com/iTrooz/memory-cache-proxy/internal/config"
)

// requestState follows one request from OnRequest to OnResponse through ctx.UserData
type requestState struct {
	key       string
	cacheable bool
	hit       bool
}

// onRequest serves the request from the cache when possible
func (s *Server) onRequest(requ *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	state := &requestState{}
	ctx.UserData = state

	if !s.shouldBeCached(requ, nil) {
		logrus.Debugf("Caching disabled by rules for %s", requ.URL)
		return requ, nil
	}

	key, err := httpcache.GenerateKey(requ)
	if err != nil {
		logrus.Warnf("Cannot derive cache key for %s: %v", requ.URL, err)
		return requ, nil
	}
	state.key = key
	state.cacheable = true

	resp := s.getCachedResponse(requ, key)
	if resp == nil {
		return requ, nil
	}

	state.hit = true
	logrus.Infof("Serving from cache: %s %s", requ.Method, requ.URL)
	return requ, resp
}

// onResponse tags and stores upstream responses
func (s *Server) onResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if resp == nil {
		return nil
	}
	state, _ := ctx.UserData.(*requestState)
	if state == nil {
		state = &requestState{}
	}

	// goproxy runs response handlers on cached responses too
	if state.hit {
		s.metrics.Requests.WithLabelValues(outcomeHit).Inc()
		return resp
	}

	resp.Header.Set("X-Cache", "MISS")

	if state.cacheable && s.shouldBeCached(ctx.Req, resp) {
		s.metrics.Requests.WithLabelValues(outcomeMiss).Inc()
		s.cacheResponse(state.key, resp)
	} else {
		s.metrics.Requests.WithLabelValues(outcomeBypass).Inc()
	}

	logrus.Infof("Forwarded request: %s %s -> %d", ctx.Req.Method, ctx.Req.URL, resp.StatusCode)
	return resp
}

// getCachedResponse returns a cached HTTP response if available
func (s *Server) getCachedResponse(requ *http.Request, key string) *http.Response {
	resp, err := s.httpCache.GetKey(key)
	if err != nil {
		logrus.Errorf("Failed to get cached data for %s: %v", requ.URL, err)
		return nil
	}
	if resp == nil {
		logrus.Debugf("No cached data found for %s", requ.URL)
		return nil
	}

	resp.Request = requ
	resp.Header.Set("X-Cache", "HIT")

	return resp
}

// shouldBeCached determines if a response should be cached based on rules.
// With resp == nil it answers whether the request may be served from or stored in the cache.
func (s *Server) shouldBeCached(requ *http.Request, resp *http.Response) bool {
	whitelist := s.config.Rules.Mode == config.ModeWhitelist

	matched := false
	for _, rule := range s.rules {
		// a status-filtered blacklist rule cannot exclude a request before its response is known
		if resp == nil && !whitelist && rule.ResponseDependent() {
			continue
		}
		if rule.Match(requ, resp) {
			matched = true
			break
		}
	}

	if whitelist {
		return matched
	}
	return !matched
}

// cacheResponse stores a response in the cache. Responses larger than the
// memory budget pass through uncached.
func (s *Server) cacheResponse(key string, resp *http.Response) {
	if bounded, ok := s.backend.(cache.BoundedCache); ok && resp.ContentLength > bounded.Capacity() {
		logrus.Debugf("Not caching %s: %d bytes exceeds capacity", key, resp.ContentLength)
		return
	}

	err := s.httpCache.SetKey(key, resp)
	switch {
	case err == nil:
	case errors.Is(err, cache.ErrEntryTooLarge):
		logrus.Debugf("Not caching %s: %v", key, err)
	default:
		s.metrics.StoreErrors.Inc()
		logrus.Errorf("Failed to cache response for %s: %v", key, err)
	}
}
