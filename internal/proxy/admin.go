package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/memory-cache-proxy/internal/cache"
)

// AdminHandler returns the admin API: health, metrics, cache stats and invalidation
func (s *Server) AdminHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Get("/cache/stats", s.handleStats)
	r.Delete("/cache", s.handleClear)
	r.Delete("/cache/entries", s.handleRemove)

	return r
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	sp, ok := s.backend.(cache.StatsProvider)
	if !ok {
		http.Error(w, "cache backend does not keep statistics", http.StatusNotImplemented)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(sp.Stats()); err != nil {
		logrus.Errorf("Failed to write cache stats: %v", err)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, _ *http.Request) {
	s.backend.Clear()
	logrus.Infof("Cache cleared via admin API")
	w.WriteHeader(http.StatusNoContent)
}

// handleRemove drops one entry addressed by its raw key, or every cached
// variant of a URL (+ optional method, default GET)
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if key := query.Get("key"); key != "" {
		s.backend.Remove(key)
		logrus.Infof("Removed cache entry %s via admin API", key)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	target := query.Get("url")
	if target == "" {
		http.Error(w, "key or url query parameter is required", http.StatusBadRequest)
		return
	}

	method := query.Get("method")
	if method == "" {
		method = http.MethodGet
	}
	requ, err := http.NewRequest(method, target, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	removed, err := s.httpCache.RemoveReq(requ)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if removed == 0 {
		http.Error(w, "no cached entry for "+method+" "+target, http.StatusNotFound)
		return
	}

	logrus.Infof("Removed %d cache entries for %s %s via admin API", removed, method, target)
	w.WriteHeader(http.StatusNoContent)
}
