package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iTrooz/memory-cache-proxy/internal/cache"
	"github.com/iTrooz/memory-cache-proxy/internal/cache/httpcache"
	"github.com/iTrooz/memory-cache-proxy/internal/config"
)

func newAdminFixture(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	server, err := New(cfg)
	require.NoError(t, err)
	admin := httptest.NewServer(server.AdminHandler())
	t.Cleanup(admin.Close)
	return server, admin
}

func doAdmin(t *testing.T, method, target string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, target, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestAdminHealth(t *testing.T) {
	_, admin := newAdminFixture(t, &config.Config{})

	resp := doAdmin(t, http.MethodGet, admin.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "OK", string(body))
}

func TestAdminStatsAndClear(t *testing.T) {
	server, admin := newAdminFixture(t, &config.Config{Cache: config.CacheConfig{Capacity: "1KiB"}})

	backend := server.Backend()
	require.NoError(t, backend.Set("a", []byte("0123456789")))
	require.NoError(t, backend.Set("b", []byte("01234")))

	resp := doAdmin(t, http.MethodGet, admin.URL+"/cache/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var stats cache.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, int64(15), stats.Usage)
	assert.Equal(t, int64(1024), stats.Capacity)

	resp = doAdmin(t, http.MethodDelete, admin.URL+"/cache")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, found := backend.Get("a")
	assert.False(t, found)
	assert.Equal(t, int64(0), backend.(cache.BoundedCache).CurrentUsage())
}

func TestAdminStatsUnsupportedBackend(t *testing.T) {
	_, admin := newAdminFixture(t, &config.Config{
		Cache: config.CacheConfig{Backend: config.BackendDisk, TTL: "1h", Folder: t.TempDir()},
	})

	resp := doAdmin(t, http.MethodGet, admin.URL+"/cache/stats")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestAdminRemoveEntry(t *testing.T) {
	server, admin := newAdminFixture(t, &config.Config{})
	backend := server.Backend()

	require.NoError(t, backend.Set("raw-key", []byte("x")))

	resp := doAdmin(t, http.MethodDelete, admin.URL+"/cache/entries?key=raw-key")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, found := backend.Get("raw-key")
	assert.False(t, found)

	// Address an entry by URL instead of key
	requ, err := http.NewRequest(http.MethodGet, "https://example.com/doc?id=1", nil)
	require.NoError(t, err)
	key, err := httpcache.GenerateKey(requ)
	require.NoError(t, err)
	require.NoError(t, backend.Set(key, []byte("doc")))

	resp = doAdmin(t, http.MethodDelete, admin.URL+"/cache/entries?url="+url.QueryEscape("https://example.com/doc?id=1"))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, found = backend.Get(key)
	assert.False(t, found)

	resp = doAdmin(t, http.MethodDelete, admin.URL+"/cache/entries?url="+url.QueryEscape("https://example.com/doc?id=1"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doAdmin(t, http.MethodDelete, admin.URL+"/cache/entries")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminMetrics(t *testing.T) {
	server, admin := newAdminFixture(t, &config.Config{})
	require.NoError(t, server.Backend().Set("a", []byte("abc")))
	server.Backend().Get("a")

	resp := doAdmin(t, http.MethodGet, admin.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, "memcache_hits_total 1"), "hits metric missing:\n%s", text)
	assert.Contains(t, text, "memcache_usage_bytes 3")
	assert.Contains(t, text, "memcache_capacity_bytes")
}
