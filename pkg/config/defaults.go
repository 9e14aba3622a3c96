package config

import (
	"strings"
	"time"

	"github.com/rugalib/ruga-filepond/pkg/fetch"
	"github.com/rugalib/ruga-filepond/pkg/router"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are filled into every backend section, so a
//     generated config file documents all of them
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStagingDefaults(&cfg.Staging)
	applyFetchDefaults(&cfg.Fetch)

	// Without plugins only the built-in no-op plugin is served
	if len(cfg.Plugins) == 0 {
		cfg.Plugins = []PluginConfig{{Alias: "noop", Type: "noop"}}
	}
	applyPluginDefaults(cfg.Plugins)

	applyContentDefaults(&cfg.Content)
	applyCatalogDefaults(&cfg.Catalog)
	applyGCDefaults(&cfg.GC)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.FieldName == "" {
		cfg.FieldName = router.DefaultFieldName
	}
	if cfg.MaxMemory == 0 {
		cfg.MaxMemory = router.DefaultMaxMemory
	}
	if cfg.DefaultPlugin == "" {
		cfg.DefaultPlugin = "noop"
	}
	// RateLimit defaults to 0 (unlimited)
	if cfg.CORS.AllowedOrigins == nil {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
}

func applyStagingDefaults(cfg *StagingConfig) {
	if cfg.Path == "" {
		cfg.Path = "/tmp/filepond-staging"
	}
	// MinFreeBytes defaults to 0 (check disabled)
}

func applyFetchDefaults(cfg *FetchConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = fetch.DefaultTimeout
	}
}

// applyPluginDefaults fills in library options so they are visible in a
// generated config file.
func applyPluginDefaults(plugins []PluginConfig) {
	for i := range plugins {
		p := &plugins[i]
		if p.Options == nil {
			p.Options = make(map[string]any)
		}
		if p.Type == "library" {
			if _, ok := p.Options["default_library"]; !ok {
				p.Options["default_library"] = "default"
			}
		}
	}
}

// applyContentDefaults sets content store defaults.
func applyContentDefaults(cfg *ContentConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = "/tmp/filepond-content"
	}
	if _, ok := cfg.S3["max_retries"]; !ok {
		cfg.S3["max_retries"] = 10
	}
}

// applyCatalogDefaults sets catalog defaults.
func applyCatalogDefaults(cfg *CatalogConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.LevelDB == nil {
		cfg.LevelDB = make(map[string]any)
	}
	if cfg.Redis == nil {
		cfg.Redis = make(map[string]any)
	}

	if _, ok := cfg.Badger["path"]; !ok {
		cfg.Badger["path"] = "/tmp/filepond-catalog/badger"
	}
	if _, ok := cfg.LevelDB["path"]; !ok {
		cfg.LevelDB["path"] = "/tmp/filepond-catalog/leveldb"
	}
	if _, ok := cfg.Redis["address"]; !ok {
		cfg.Redis["address"] = "localhost:6379"
	}
	if _, ok := cfg.Redis["key_prefix"]; !ok {
		cfg.Redis["key_prefix"] = "filepond:"
	}
}

// applyGCDefaults sets collector defaults. Enabled is left as configured;
// GetDefaultConfig turns it on.
func applyGCDefaults(cfg *GCConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 24 * time.Hour
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Plugins: []PluginConfig{
			{Alias: "noop", Type: "noop"},
			{
				Alias: "library",
				Type:  "library",
				Options: map[string]any{
					"default_library":     "default",
					"max_upload_size":     0,
					"allowed_types":       []string{},
					"require_link_to":     false,
					"allowed_fetch_hosts": []string{},
				},
			},
		},
		GC: GCConfig{
			Enabled: true,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
