package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete upload server configuration.
//
// This structure captures all configurable aspects of the server including:
//   - Logging configuration
//   - HTTP listener, CORS and rate limit settings
//   - The staging area transfers are assembled in
//   - Plugin definitions, addressed by the first request path segment
//   - Content store and catalog selection (backend-specific sections)
//   - Garbage collection and metrics
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (FILEPOND_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Backend Configuration Pattern:
// The content and catalog sections carry one map per backend type (e.g.
// content.filesystem, content.s3); only the map matching the selected type
// is decoded, by the factory for that backend.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains HTTP listener settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Staging configures the transfer staging area
	Staging StagingConfig `mapstructure:"staging" yaml:"staging"`

	// Fetch configures remote fetches
	Fetch FetchConfig `mapstructure:"fetch" yaml:"fetch"`

	// Plugins defines the plugin instances available to requests
	Plugins []PluginConfig `mapstructure:"plugins" yaml:"plugins" validate:"dive"`

	// Content selects the destination store for finished uploads
	Content ContentConfig `mapstructure:"content" yaml:"content"`

	// Catalog selects the document catalog backend
	Catalog CatalogConfig `mapstructure:"catalog" yaml:"catalog"`

	// GC configures removal of abandoned transfers
	GC GCConfig `mapstructure:"gc" yaml:"gc"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains the HTTP listener settings.
type ServerConfig struct {
	// Port is the TCP port the upload endpoint listens on
	Port int `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// FieldName is the form field the widget posts under
	FieldName string `mapstructure:"field_name" yaml:"field_name" validate:"required"`

	// MaxMemory bounds in-memory multipart parsing, in bytes
	MaxMemory int64 `mapstructure:"max_memory" yaml:"max_memory" validate:"gte=0"`

	// MaxBodySize caps the body of a POST request, in bytes. 0 means
	// unlimited.
	MaxBodySize int64 `mapstructure:"max_body_size" yaml:"max_body_size" validate:"gte=0"`

	// DefaultPlugin serves requests whose path names no plugin
	DefaultPlugin string `mapstructure:"default_plugin" yaml:"default_plugin" validate:"required"`

	// RateLimit throttles requests per client address
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`

	// CORS controls cross-origin access
	CORS CORSConfig `mapstructure:"cors" yaml:"cors"`
}

// RateLimitConfig configures per-client token buckets.
type RateLimitConfig struct {
	// RequestsPerSecond is the refill rate. 0 disables limiting.
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the bucket size. 0 defaults to RequestsPerSecond.
	Burst uint `mapstructure:"burst" yaml:"burst"`
}

// CORSConfig configures cross-origin access.
type CORSConfig struct {
	// AllowedOrigins lists origins allowed to call the endpoint.
	// "*" allows any origin; an empty list disables CORS headers.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// StagingConfig configures the staging area.
type StagingConfig struct {
	// Path is the root directory of all transfer directories
	Path string `mapstructure:"path" yaml:"path" validate:"required"`

	// MinFreeBytes rejects uploads with 507 once free space on the staging
	// filesystem would drop below this value. 0 disables the check.
	MinFreeBytes uint64 `mapstructure:"min_free_bytes" yaml:"min_free_bytes"`
}

// FetchConfig configures remote fetches.
type FetchConfig struct {
	// Timeout bounds a single remote request
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"required,gt=0"`

	// MaxSize caps the number of bytes fetched. 0 means unlimited.
	MaxSize int64 `mapstructure:"max_size" yaml:"max_size" validate:"gte=0"`
}

// PluginConfig defines one plugin instance.
type PluginConfig struct {
	// Alias is the first path segment that selects this plugin
	Alias string `mapstructure:"alias" yaml:"alias" validate:"required,excludesall=/?#"`

	// Type selects the implementation
	// Valid values: noop, library
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=noop library"`

	// Options holds type-specific settings
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// ContentConfig specifies content store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type ContentConfig struct {
	// Type specifies which content store implementation to use
	// Valid values: filesystem, memory, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=filesystem memory s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// CatalogConfig specifies document catalog configuration.
//
// The Type field determines which backend is used.
// Only the corresponding type-specific configuration section is used.
type CatalogConfig struct {
	// Type specifies which catalog implementation to use
	// Valid values: memory, badger, leveldb, redis
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger leveldb redis"`

	// Badger contains BadgerDB-specific configuration
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`

	// LevelDB contains LevelDB-specific configuration
	LevelDB map[string]any `mapstructure:"leveldb" yaml:"leveldb"`

	// Redis contains Redis-specific configuration
	Redis map[string]any `mapstructure:"redis" yaml:"redis"`
}

// GCConfig configures the staging garbage collector.
type GCConfig struct {
	// Enabled starts the background sweeper
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval between sweeps
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"required,gt=0"`

	// MaxAge after which an untouched transfer is removed
	MaxAge time.Duration `mapstructure:"max_age" yaml:"max_age" validate:"required,gt=0"`

	// DryRun logs what would be removed without removing it
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// MetricsConfig configures the Prometheus metrics server.
type MetricsConfig struct {
	// Enabled starts the metrics server
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the TCP port of the metrics server
	Port int `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (FILEPOND_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: FILEPOND_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("FILEPOND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/filepond/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Env-only overrides need the key to be known to viper.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
}

// envKeys are the scalar keys that may be set from the environment without
// appearing in the config file.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.port",
	"server.shutdown_timeout",
	"server.max_body_size",
	"server.default_plugin",
	"staging.path",
	"staging.min_free_bytes",
	"fetch.timeout",
	"fetch.max_size",
	"content.type",
	"catalog.type",
	"gc.enabled",
	"gc.interval",
	"gc.max_age",
	"metrics.enabled",
	"metrics.port",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No config file: defaults and environment only
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "filepond")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "filepond")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
