// Package config loads and validates the cache core's static configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/vfscache/corefs/internal/bytesize"
)

// Config is the complete static configuration for the cache core.
//
// Load assembles it from a YAML configuration file, environment variables
// (COREFS_*) and default values. An environment variable overrides a key
// only when the file sets that key; when no file is found, Load returns the
// defaults and reads no environment variables. Load does not read CLI flags.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Inode      InodeConfig      `mapstructure:"inode" yaml:"inode"`
	Permission PermissionConfig `mapstructure:"permission" yaml:"permission"`
	State      StateConfig      `mapstructure:"state" yaml:"state"`
	Backing    BackingConfig    `mapstructure:"backing" yaml:"backing"`
	Pseudofs   PseudofsConfig   `mapstructure:"pseudofs" yaml:"pseudofs"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures Prometheus metrics. Enabled makes cachectl create
// an in-process registry and register the cache and state metrics into it;
// Port is loaded and validated, but no HTTP server is started.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// InodeConfig configures the cache index, LRU/pin subsystem, and open-fd cache.
type InodeConfig struct {
	// Shards is loaded and validated but not passed to pkg/inode, whose
	// cache index always uses 32 shards.
	Shards int `mapstructure:"shards" validate:"required,gt=0" yaml:"shards"`

	// Capacity is the soft target entry count; the reclaimer trims toward it.
	Capacity int `mapstructure:"capacity" validate:"required,gt=0" yaml:"capacity"`

	// Lanes records the LRU lane count, 7 by default. It is not passed to
	// pkg/inode, whose lane count is the constant inode.NumLanes (7).
	Lanes int `mapstructure:"lanes" yaml:"lanes"`

	// SentinelRefCount records the reference an entry holds by being in the
	// index, 1 by default. It is not passed to pkg/inode, which uses the
	// constant inode.SentinelRefCount (1).
	SentinelRefCount int32 `mapstructure:"sentinel_refcount" yaml:"sentinel_refcount"`

	// WorkPerWake bounds how many entries the reclaimer inspects per wake.
	WorkPerWake int `mapstructure:"work_per_wake" validate:"required,gt=0" yaml:"work_per_wake"`

	// ReclaimInterval is the idle period between reclaimer wakeups.
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval" yaml:"reclaim_interval"`

	// OpenFDCapacity bounds the number of cached open file descriptors.
	OpenFDCapacity int `mapstructure:"open_fd_capacity" validate:"required,gt=0" yaml:"open_fd_capacity"`

	// MaxEntrySize is a size limit for cached entry content, accepting
	// human-readable sizes like "64Mi". It is loaded but no component reads
	// it, so no entry is rejected for its size.
	MaxEntrySize bytesize.ByteSize `mapstructure:"max_entry_size" yaml:"max_entry_size,omitempty"`
}

// PermissionConfig holds permission-engine settings. They are loaded but not
// read by pkg/permission, which takes root bypass from each request's
// permission.Context and performs no identity mapping.
type PermissionConfig struct {
	// RootBypass records whether UID 0 bypasses mode/ACL checks.
	RootBypass bool `mapstructure:"root_bypass" yaml:"root_bypass"`

	// AnonymousUID/GID record the identity for callers that cannot be mapped.
	AnonymousUID uint32 `mapstructure:"anonymous_uid" yaml:"anonymous_uid"`
	AnonymousGID uint32 `mapstructure:"anonymous_gid" yaml:"anonymous_gid"`
}

// StateConfig controls the client/lease/delegation registry.
type StateConfig struct {
	// LeaseDuration is how long a client's lease is valid without renewal.
	LeaseDuration time.Duration `mapstructure:"lease_duration" validate:"required,gt=0" yaml:"lease_duration"`

	// GracePeriod is how long, after startup, only reclaim requests are honored.
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period"`

	// MaxClients is loaded and validated but not passed to pkg/state, which
	// puts no bound on the number of tracked client records.
	MaxClients int `mapstructure:"max_clients" validate:"required,gt=0" yaml:"max_clients"`

	// DelegationRecallTimeout is how long to wait for a client to respond to
	// a delegation recall before the server revokes it unilaterally.
	DelegationRecallTimeout time.Duration `mapstructure:"delegation_recall_timeout" yaml:"delegation_recall_timeout"`
}

// BackingConfig selects and configures the backing store adapter.
type BackingConfig struct {
	// Type selects the adapter implementation. Only "memory" ships in this
	// tree; it exists to exercise the backing.Store interface end to end.
	Type string `mapstructure:"type" validate:"required,oneof=memory" yaml:"type"`
}

// PseudofsConfig configures the pseudo-filesystem namespace composition.
type PseudofsConfig struct {
	// Exports lists the junction points exposed at the pseudo-filesystem root.
	Exports []ExportConfig `mapstructure:"exports" yaml:"exports"`
}

// ExportConfig describes one junction from the pseudo-filesystem into a
// backing export.
type ExportConfig struct {
	Path     string `mapstructure:"path" validate:"required" yaml:"path"`
	ReadOnly bool   `mapstructure:"read_only" yaml:"read_only"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !found {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration, returning a user-friendly error if the file
// is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"create one first:\n"+
				"  cachectl config init\n\n"+
				"or point at an explicit file:\n"+
				"  cachectl <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("COREFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook lets config files use human-readable sizes like "64Mi".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook lets config files use human-readable durations like "30s".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "corefs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "corefs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
