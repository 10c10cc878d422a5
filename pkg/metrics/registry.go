// Package metrics declares the core's metrics interfaces and a nil-safe
// registration indirection that lets pkg/inode, pkg/permission, and
// pkg/state stay free of any direct Prometheus dependency.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.RWMutex
	enabled  bool
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection and creates the Prometheus registry
// that NewCacheMetrics/NewStateMetrics instances register into.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	registry = prometheus.NewRegistry()
	enabled = true
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// GetRegistry returns the active registry, or nil if metrics are disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Reset disables metrics and drops the registry. Exists for test isolation.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	enabled = false
	registry = nil
}
