package tests

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/iTrooz/memory-cache-proxy/internal/config"
	"github.com/iTrooz/memory-cache-proxy/internal/proxy"
)

// upstream is a test origin that counts the requests it serves
type upstream struct {
	*httptest.Server
	hits atomic.Int64
}

// fixture_upstream creates a test upstream server. /big/<n> returns n bytes,
// /status/<code> answers with that status, anything else a small JSON document.
func fixture_upstream() *upstream {
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		u.hits.Add(1)

		var size, code int
		switch {
		case strings.HasPrefix(requ.URL.Path, "/big/"):
			_, _ = fmt.Sscanf(requ.URL.Path, "/big/%d", &size)
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte(strings.Repeat("x", size)))
		case strings.HasPrefix(requ.URL.Path, "/status/"):
			_, _ = fmt.Sscanf(requ.URL.Path, "/status/%d", &code)
			w.WriteHeader(code)
		default:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"message": "Hello from upstream", "path": "` + requ.URL.Path + `"}`))
		}
	}))
	return u
}

// fixture_config creates a memory-backed test config with optional rules
func fixture_config(capacity string, rules *config.RulesConfig) *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0 // Will be set by test server
	cfg.Cache.Capacity = capacity

	if rules != nil {
		cfg.Rules = *rules
	}

	return &cfg
}

// fixture_proxy creates a proxy server with the given config and returns the server, test server, and HTTP client
func fixture_proxy(cfg *config.Config) (*proxy.Server, *httptest.Server, *http.Client, error) {
	proxyServer, err := proxy.New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := proxyServer.Backend().Init(); err != nil {
		return nil, nil, nil, err
	}

	// Create test proxy HTTP server using goproxy
	proxyTestServer := httptest.NewServer(proxyServer.GetProxy())

	// Create HTTP client that uses our proxy
	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(proxyURL),
			DisableKeepAlives: true,
		},
		Timeout: 10 * time.Second,
	}

	return proxyServer, proxyTestServer, client, nil
}
