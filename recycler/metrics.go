package recycler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the Prometheus collectors registered against
// Options.Registry. A Recycler built with a nil Registry gets a nil
// *metrics, and every method on it becomes a no-op, so call sites never
// need their own nil checks.
type metrics struct {
	residentBytes *prometheus.GaugeVec
	evictedBytes  *prometheus.CounterVec
	overflows     prometheus.Counter
	adjustLatency prometheus.Histogram
}

// newMetrics registers a Recycler's collectors against reg. reg == nil
// disables metrics entirely.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		residentBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "corestore",
			Subsystem: "recycler",
			Name:      "resident_bytes",
			Help:      "Bytes currently cached, by priority buffer.",
		}, []string{"priority"}),
		evictedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corestore",
			Subsystem: "recycler",
			Name:      "evicted_bytes_total",
			Help:      "Bytes evicted from clean locks, by priority buffer.",
		}, []string{"priority"}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corestore",
			Subsystem: "recycler",
			Name:      "overflows_total",
			Help:      "adjustSize calls that could not make room for an incoming lock after evicting clean locks and flushing dirty ones.",
		}),
		adjustLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "corestore",
			Subsystem: "recycler",
			Name:      "adjust_size_seconds",
			Help:      "Time spent per adjustSize call evicting (and, if needed, flushing) to satisfy capacity.",
		}),
	}
	reg.MustRegister(m.residentBytes, m.evictedBytes, m.overflows, m.adjustLatency)
	return m
}

func (m *metrics) setResident(hot, cold int64) {
	if m == nil {
		return
	}
	m.residentBytes.WithLabelValues("hot").Set(float64(hot))
	m.residentBytes.WithLabelValues("cold").Set(float64(cold))
}

func (m *metrics) observeEviction(p Priority, bytes int64) {
	if m == nil || bytes == 0 {
		return
	}
	m.evictedBytes.WithLabelValues(priorityLabel(p)).Add(float64(bytes))
}

func (m *metrics) observeOverflow() {
	if m == nil {
		return
	}
	m.overflows.Inc()
}

func (m *metrics) observeAdjustSize(d time.Duration) {
	if m == nil {
		return
	}
	m.adjustLatency.Observe(d.Seconds())
}

func priorityLabel(p Priority) string {
	if p == Hot {
		return "hot"
	}
	return "cold"
}
