package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Rejection reasons used as the "reason" label.
const (
	reasonTooLarge    = "too_large"
	reasonInvalidSize = "invalid_size"
	reasonInvalidKey  = "invalid_key"
)

// Metrics holds the Prometheus collectors for the memory cache.
type Metrics struct {
	Hits       prometheus.Counter
	Misses     prometheus.Counter
	Evictions  prometheus.Counter
	Rejections *prometheus.CounterVec
	UsageBytes prometheus.Gauge
	Entries    prometheus.Gauge
	Capacity   prometheus.Gauge
}

// NewMetrics creates and registers the cache collectors with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memcache",
			Name:      "hits_total",
			Help:      "Total memory cache hits.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memcache",
			Name:      "misses_total",
			Help:      "Total memory cache misses.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memcache",
			Name:      "evictions_total",
			Help:      "Entries evicted to make room for new ones.",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memcache",
			Name:      "rejections_total",
			Help:      "Put calls refused by the memory cache.",
		}, []string{"reason"}),
		UsageBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "memcache",
			Name:      "usage_bytes",
			Help:      "Bytes currently charged against the capacity.",
		}),
		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "memcache",
			Name:      "entries",
			Help:      "Number of entries currently stored.",
		}),
		Capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "memcache",
			Name:      "capacity_bytes",
			Help:      "Configured capacity in bytes.",
		}),
	}

	reg.MustRegister(
		m.Hits,
		m.Misses,
		m.Evictions,
		m.Rejections,
		m.UsageBytes,
		m.Entries,
		m.Capacity,
	)

	return m
}
