package config

import (
	"strings"
	"time"

	"github.com/vfscache/corefs/internal/bytesize"
)

// Fixed constants from the reference LRU design. These are not meant to be
// tuned per deployment, but are kept as named defaults rather than literals
// scattered through pkg/inode.
const (
	defaultLanes            = 7 // prime, avoids thread-lane hashing collisions
	defaultSentinelRefCount = int32(1)
)

// ApplyDefaults fills any unset fields in cfg with sensible defaults.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyInodeDefaults(&cfg.Inode)
	applyPermissionDefaults(&cfg.Permission)
	applyStateDefaults(&cfg.State)
	applyBackingDefaults(&cfg.Backing)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyInodeDefaults(cfg *InodeConfig) {
	if cfg.Shards == 0 {
		cfg.Shards = 16
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = 100_000
	}
	// Lanes and SentinelRefCount get the reference values when unset; an
	// explicit nonzero value is kept as given.
	if cfg.Lanes == 0 {
		cfg.Lanes = defaultLanes
	}
	if cfg.SentinelRefCount == 0 {
		cfg.SentinelRefCount = defaultSentinelRefCount
	}
	if cfg.WorkPerWake == 0 {
		cfg.WorkPerWake = 10
	}
	if cfg.ReclaimInterval == 0 {
		cfg.ReclaimInterval = 30 * time.Second
	}
	if cfg.OpenFDCapacity == 0 {
		cfg.OpenFDCapacity = 1024
	}
	if cfg.MaxEntrySize == 0 {
		cfg.MaxEntrySize = bytesize.ByteSize(64 * bytesize.MiB)
	}
}

func applyPermissionDefaults(cfg *PermissionConfig) {
	if cfg.AnonymousUID == 0 {
		cfg.AnonymousUID = 65534
	}
	if cfg.AnonymousGID == 0 {
		cfg.AnonymousGID = 65534
	}
}

func applyStateDefaults(cfg *StateConfig) {
	if cfg.LeaseDuration == 0 {
		cfg.LeaseDuration = 90 * time.Second
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = cfg.LeaseDuration
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = 10_000
	}
	if cfg.DelegationRecallTimeout == 0 {
		cfg.DelegationRecallTimeout = 10 * time.Second
	}
}

func applyBackingDefaults(cfg *BackingConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
}

// GetDefaultConfig returns a Config with all default values applied.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Pseudofs: PseudofsConfig{
			Exports: []ExportConfig{
				{Path: "/export", ReadOnly: false},
			},
		},
		Backing: BackingConfig{Type: "memory"},
	}
	ApplyDefaults(cfg)
	return cfg
}
