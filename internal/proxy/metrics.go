package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Cache outcome labels for proxied requests
const (
	outcomeHit    = "hit"
	outcomeMiss   = "miss"
	outcomeBypass = "bypass"
)

// Metrics holds the Prometheus collectors for proxied traffic.
type Metrics struct {
	Requests    *prometheus.CounterVec
	StoreErrors prometheus.Counter
}

// NewMetrics creates and registers the proxy collectors with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proxy",
			Name:      "requests_total",
			Help:      "Proxied requests by cache outcome.",
		}, []string{"cache"}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "proxy",
			Name:      "cache_store_errors_total",
			Help:      "Responses that could not be stored in the cache.",
		}),
	}

	reg.MustRegister(m.Requests, m.StoreErrors)
	return m
}
