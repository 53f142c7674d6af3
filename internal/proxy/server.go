package proxy

import (
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/elazarl/goproxy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/memory-cache-proxy/internal/cache"
	"github.com/iTrooz/memory-cache-proxy/internal/cache/httpcache"
	"github.com/iTrooz/memory-cache-proxy/internal/config"
)

// Server represents the caching proxy server
type Server struct {
	config    *config.Config
	backend   cache.GenericCache
	httpCache *httpcache.HTTPCache
	rules     []Rule
	proxy     *goproxy.ProxyHttpServer
	registry  *prometheus.Registry
	metrics   *Metrics
}

// New creates a new proxy server
func New(cfg *config.Config) (*Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	backend, err := newBackend(cfg, registry)
	if err != nil {
		return nil, err
	}

	rules := make([]Rule, 0, len(cfg.Rules.Rules))
	for _, r := range cfg.Rules.Rules {
		rules = append(rules, &ConfigRule{CacheRule: r})
	}

	s := &Server{
		config:    cfg,
		backend:   backend,
		httpCache: httpcache.New(backend),
		rules:     rules,
		proxy:     goproxy.NewProxyHttpServer(),
		registry:  registry,
		metrics:   NewMetrics(registry),
	}

	s.proxy.Logger = logrus.StandardLogger()
	s.proxy.Verbose = logrus.IsLevelEnabled(logrus.TraceLevel)

	if cfg.Server.HTTPS.Enabled {
		if err := s.setupHTTPSProxyHandler(); err != nil {
			return nil, err
		}
	}

	s.proxy.OnRequest().DoFunc(s.onRequest)
	s.proxy.OnResponse().DoFunc(s.onResponse)

	return s, nil
}

// newBackend builds the cache tier selected by cfg.Cache.Backend
func newBackend(cfg *config.Config, reg prometheus.Registerer) (cache.GenericCache, error) {
	if cfg.Cache.Backend == config.BackendDisk {
		cacheTTL, err := cfg.GetCacheTTL()
		if err != nil {
			return nil, fmt.Errorf("invalid cache TTL: %w", err)
		}
		return cache.NewDisk(cfg.Cache.Folder, cacheTTL), nil
	}

	capacity := cache.DefaultCapacity
	if cfg.Cache.Capacity != "" {
		var err error
		if capacity, err = cfg.GetCacheCapacity(); err != nil {
			return nil, fmt.Errorf("invalid cache capacity: %w", err)
		}
	}

	mem, err := cache.NewMemory(capacity,
		cache.WithMetrics(cache.NewMetrics(reg)),
		cache.WithEvictionHook(logEviction),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	return mem, nil
}

func logEviction(key string, size int64) {
	logrus.Debugf("Evicted %s (%s) from memory cache", key, humanize.IBytes(uint64(size)))
}

// GetProxy returns the HTTP handler of the proxy (exported for testing)
func (s *Server) GetProxy() http.Handler {
	return s.proxy
}

// Backend returns the cache tier in use
func (s *Server) Backend() cache.GenericCache {
	return s.backend
}

// Start starts the proxy server, plus the admin and transparent HTTPS listeners when configured
func (s *Server) Start() error {
	if err := s.backend.Init(); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}

	logrus.Infof("Starting caching proxy on port %d", s.config.Server.Port)
	switch b := s.backend.(type) {
	case cache.BoundedCache:
		logrus.Infof("Memory cache capacity: %s", humanize.IBytes(uint64(b.Capacity())))
	default:
		logrus.Infof("Cache directory: %s", s.config.Cache.Folder)
		logrus.Infof("Cache TTL: %s", s.config.Cache.TTL)
	}
	logrus.Infof("Rules mode: %s", s.config.Rules.Mode)

	if port := s.config.Server.AdminPort; port != 0 {
		go func() {
			logrus.Infof("Starting admin API on port %d", port)
			if err := http.ListenAndServe(fmt.Sprintf(":%d", port), s.AdminHandler()); err != nil {
				logrus.Errorf("Admin API failed: %v", err)
			}
		}()
	}

	if s.config.Server.HTTPS.Enabled && s.config.Server.HTTPS.TransparentPort != 0 {
		go func() {
			addr := fmt.Sprintf(":%d", s.config.Server.HTTPS.TransparentPort)
			if err := s.StartTransparentHTTPS(addr); err != nil {
				logrus.Errorf("Transparent HTTPS listener failed: %v", err)
			}
		}()
	}

	return http.ListenAndServe(fmt.Sprintf(":%d", s.config.Server.Port), s.proxy)
}
