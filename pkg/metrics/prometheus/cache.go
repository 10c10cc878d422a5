// Package prometheus implements the core's metrics interfaces on top of
// client_golang, registering into the registry created by metrics.InitRegistry.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vfscache/corefs/pkg/metrics"
)

func init() {
	metrics.RegisterCacheMetricsConstructor(newCacheMetrics)
	metrics.RegisterStateMetricsConstructor(newStateMetrics)
}

type cacheMetrics struct {
	lookups         *prometheus.CounterVec
	lookupDuration  prometheus.Histogram
	readBytes       prometheus.Histogram
	readDuration    prometheus.Histogram
	writeBytes      prometheus.Histogram
	writeDuration   prometheus.Histogram
	entryCount      prometheus.Gauge
	pinnedCount     prometheus.Gauge
	evictions       *prometheus.CounterVec
	openFDCount     prometheus.Gauge
	openFDEvictions prometheus.Counter
}

func newCacheMetrics() metrics.CacheMetrics {
	reg := metrics.GetRegistry()

	return &cacheMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "corefs_inode_lookups_total",
				Help: "Cache index lookups by outcome",
			},
			[]string{"outcome"}, // "hit", "miss"
		),
		lookupDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "corefs_inode_lookup_duration_seconds",
				Help:    "Cache index lookup latency",
				Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
			},
		),
		readBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "corefs_inode_read_bytes",
				Help:    "Distribution of bytes read from cache entries",
				Buckets: prometheus.ExponentialBuckets(4096, 4, 8),
			},
		),
		readDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "corefs_inode_read_duration_seconds",
				Help:    "Cache entry read latency",
				Buckets: prometheus.DefBuckets,
			},
		),
		writeBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "corefs_inode_write_bytes",
				Help:    "Distribution of bytes written to cache entries",
				Buckets: prometheus.ExponentialBuckets(4096, 4, 8),
			},
		),
		writeDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "corefs_inode_write_duration_seconds",
				Help:    "Cache entry write latency",
				Buckets: prometheus.DefBuckets,
			},
		),
		entryCount: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "corefs_inode_entries",
				Help: "Current number of entries tracked by the cache index",
			},
		),
		pinnedCount: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "corefs_inode_pinned_entries",
				Help: "Current number of state-holding pinned entries",
			},
		),
		evictions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "corefs_inode_evictions_total",
				Help: "Reclaimer evictions by reason",
			},
			[]string{"reason"},
		),
		openFDCount: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "corefs_inode_open_fds",
				Help: "Current open-fd cache occupancy",
			},
		),
		openFDEvictions: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "corefs_inode_open_fd_evictions_total",
				Help: "Total open-fd cache evictions",
			},
		),
	}
}

func (m *cacheMetrics) ObserveLookup(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.lookups.WithLabelValues(outcome).Inc()
	m.lookupDuration.Observe(duration.Seconds())
}

func (m *cacheMetrics) ObserveRead(bytes int64, duration time.Duration) {
	if m == nil {
		return
	}
	if bytes > 0 {
		m.readBytes.Observe(float64(bytes))
	}
	m.readDuration.Observe(duration.Seconds())
}

func (m *cacheMetrics) ObserveWrite(bytes int64, duration time.Duration) {
	if m == nil {
		return
	}
	if bytes > 0 {
		m.writeBytes.Observe(float64(bytes))
	}
	m.writeDuration.Observe(duration.Seconds())
}

func (m *cacheMetrics) RecordEntryCount(n int) {
	if m == nil {
		return
	}
	m.entryCount.Set(float64(n))
}

func (m *cacheMetrics) RecordPinned(n int) {
	if m == nil {
		return
	}
	m.pinnedCount.Set(float64(n))
}

func (m *cacheMetrics) RecordEviction(reason string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(reason).Inc()
}

func (m *cacheMetrics) RecordOpenFD(n int) {
	if m == nil {
		return
	}
	m.openFDCount.Set(float64(n))
}

func (m *cacheMetrics) RecordOpenFDEviction() {
	if m == nil {
		return
	}
	m.openFDEvictions.Inc()
}
