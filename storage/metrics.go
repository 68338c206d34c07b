package storage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dbzero-io/corestore/pagecache"
)

// metrics holds the Prometheus collectors registered against
// Options.Registry. A Storage opened with a nil Registry gets a nil
// *metrics, and every method on it becomes a no-op, so the instrumentation
// never has to be guarded at call sites beyond a single nil check.
type metrics struct {
	flushLatency prometheus.Histogram
}

// newMetrics registers Create/Open's metrics against reg and, if pageCache
// is non-nil, a collector exposing its hit rate and resident byte count.
// reg == nil disables metrics entirely, matching the optional-collector
// pattern other dbzero-io components use for an injected
// prometheus.Registerer.
func newMetrics(reg prometheus.Registerer, pageCache *pagecache.Cache, pageSize int64) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		flushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "corestore",
			Subsystem: "storage",
			Name:      "flush_seconds",
			Help:      "Time spent in Flush appending the DP change-log chunk and fsyncing the prefix file.",
		}),
	}
	reg.MustRegister(m.flushLatency)
	if pageCache != nil {
		reg.MustRegister(&cacheStatsCollector{cache: pageCache, pageSize: pageSize})
	}
	return m
}

func (m *metrics) observeFlush(d time.Duration) {
	if m == nil {
		return
	}
	m.flushLatency.Observe(d.Seconds())
}

var (
	cacheHitRateDesc = prometheus.NewDesc(
		"corestore_storage_page_cache_hit_rate",
		"Fraction of page cache lookups that were hits, in [0,1]. NaN until the first lookup.",
		nil, nil,
	)
	cacheResidentBytesDesc = prometheus.NewDesc(
		"corestore_storage_page_cache_resident_bytes",
		"Bytes currently resident in the page cache (allocated pages minus freed pages, times page size).",
		nil, nil,
	)
)

// cacheStatsCollector exposes pagecache.Cache.Stats() as Prometheus gauges,
// computed at scrape time from the cache's own running counters rather than
// pushed on every access.
type cacheStatsCollector struct {
	cache    *pagecache.Cache
	pageSize int64
}

func (c *cacheStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cacheHitRateDesc
	ch <- cacheResidentBytesDesc
}

func (c *cacheStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.cache.Stats()
	ch <- prometheus.MustNewConstMetric(cacheHitRateDesc, prometheus.GaugeValue, stats.HitRate())
	resident := (stats.Allocs - stats.Frees) * c.pageSize
	ch <- prometheus.MustNewConstMetric(cacheResidentBytesDesc, prometheus.GaugeValue, float64(resident))
}
