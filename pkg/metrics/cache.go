package metrics

import "time"

// CacheMetrics observes the cache index, the LRU/pin subsystem, and the
// open-fd cache. Implementations must be safe for concurrent use and must
// tolerate a nil receiver so callers can pass nil when metrics are disabled.
type CacheMetrics interface {
	// ObserveLookup records a cache index lookup.
	ObserveLookup(hit bool, duration time.Duration)

	// ObserveRead/ObserveWrite record a content read/write against a cache entry.
	ObserveRead(bytes int64, duration time.Duration)
	ObserveWrite(bytes int64, duration time.Duration)

	// RecordEntryCount records the number of entries currently tracked by the index.
	RecordEntryCount(n int)

	// RecordPinned records the number of entries currently pinned (state-holding).
	RecordPinned(n int)

	// RecordEviction records a reclaimer eviction. reason is e.g. "lru", "invalidate".
	RecordEviction(reason string)

	// RecordOpenFD records the current open-fd cache occupancy.
	RecordOpenFD(n int)

	// RecordOpenFDEviction records an open-fd cache eviction.
	RecordOpenFDEviction()
}

// newPrometheusCacheMetrics is registered by pkg/metrics/prometheus during
// init, avoiding an import cycle between the interface and implementation.
var newPrometheusCacheMetrics func() CacheMetrics

// RegisterCacheMetricsConstructor is called by pkg/metrics/prometheus to
// install its concrete CacheMetrics implementation.
func RegisterCacheMetricsConstructor(constructor func() CacheMetrics) {
	newPrometheusCacheMetrics = constructor
}

// NewCacheMetrics returns a Prometheus-backed CacheMetrics, or nil if metrics
// are disabled. Callers should pass the nil result straight through to
// pkg/inode, which treats a nil CacheMetrics as zero overhead.
func NewCacheMetrics() CacheMetrics {
	if !IsEnabled() || newPrometheusCacheMetrics == nil {
		return nil
	}
	return newPrometheusCacheMetrics()
}
