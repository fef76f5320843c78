package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the query cache.
//
// Metrics:
//   - taskdash_cache_hits_total - reads served fresh from the cache
//   - taskdash_cache_stale_hits_total - reads served stale while refreshing
//   - taskdash_cache_misses_total - reads that had to wait for a fetch
//   - taskdash_cache_fetches_total - fetches started
//   - taskdash_cache_fetch_errors_total - fetches that failed
//   - taskdash_cache_dedup_waits_total - reads that joined an in-flight fetch
//   - taskdash_cache_discarded_total - fetch results dropped as superseded
//   - taskdash_cache_evictions_total - entries removed by the janitor
//   - taskdash_cache_entries - current number of entries
type Metrics struct {
	HitsTotal        prometheus.Counter
	StaleHitsTotal   prometheus.Counter
	MissesTotal      prometheus.Counter
	FetchesTotal     prometheus.Counter
	FetchErrorsTotal prometheus.Counter
	DedupWaitsTotal  prometheus.Counter
	DiscardedTotal   prometheus.Counter
	EvictionsTotal   prometheus.Counter
	Entries          prometheus.Gauge
}

// NewMetrics creates the cache metrics and registers them on reg.
// A nil registerer creates unregistered metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskdash",
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		})
	}

	return &Metrics{
		HitsTotal:        counter("hits_total", "Reads served fresh from the cache"),
		StaleHitsTotal:   counter("stale_hits_total", "Reads served stale while a refresh runs"),
		MissesTotal:      counter("misses_total", "Reads that waited for a fetch"),
		FetchesTotal:     counter("fetches_total", "Fetches started"),
		FetchErrorsTotal: counter("fetch_errors_total", "Fetches that returned an error"),
		DedupWaitsTotal:  counter("dedup_waits_total", "Reads that joined an in-flight fetch"),
		DiscardedTotal:   counter("discarded_total", "Fetch results not written because newer data exists"),
		EvictionsTotal:   counter("evictions_total", "Entries evicted after their gc time"),
		Entries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskdash",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of cache entries",
		}),
	}
}
