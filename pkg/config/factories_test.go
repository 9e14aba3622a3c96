package config

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	catalogMemory "github.com/rugalib/ruga-filepond/pkg/catalog/memory"
	contentMemory "github.com/rugalib/ruga-filepond/pkg/content/memory"
)

func TestCreateContentStore_Filesystem(t *testing.T) {
	cfg := &ContentConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{"path": filepath.Join(t.TempDir(), "content")},
	}

	store, err := CreateContentStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create filesystem content store: %v", err)
	}
	if store == nil {
		t.Fatal("Expected non-nil store")
	}
}

func TestCreateContentStore_FilesystemMissingPath(t *testing.T) {
	cfg := &ContentConfig{Type: "filesystem", Filesystem: map[string]any{}}

	_, err := CreateContentStore(context.Background(), cfg)
	if err == nil {
		t.Fatal("Expected error for missing path")
	}
	if !strings.Contains(err.Error(), "path is required") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestCreateContentStore_UnknownOption(t *testing.T) {
	cfg := &ContentConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{"path": t.TempDir(), "pth": "typo"},
	}

	if _, err := CreateContentStore(context.Background(), cfg); err == nil {
		t.Fatal("Expected error for an unknown option key")
	}
}

func TestCreateContentStore_Memory(t *testing.T) {
	store, err := CreateContentStore(context.Background(), &ContentConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("Failed to create memory content store: %v", err)
	}
	if store == nil {
		t.Fatal("Expected non-nil store")
	}
}

func TestCreateContentStore_S3RequiresBucket(t *testing.T) {
	cfg := &ContentConfig{Type: "s3", S3: map[string]any{"region": "us-east-1"}}

	_, err := CreateContentStore(context.Background(), cfg)
	if err == nil {
		t.Fatal("Expected error for missing bucket")
	}
	if !strings.Contains(err.Error(), "bucket is required") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestCreateContentStore_UnknownType(t *testing.T) {
	_, err := CreateContentStore(context.Background(), &ContentConfig{Type: "tape"})
	if err == nil {
		t.Fatal("Expected error for unknown type")
	}
	if !strings.Contains(err.Error(), "unknown content store type") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestCreateContentStore_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := CreateContentStore(ctx, &ContentConfig{Type: "memory"}); err == nil {
		t.Fatal("Expected error for a cancelled context")
	}
}

func TestCreateCatalog(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(dir string) *CatalogConfig
	}{
		{"Memory", func(string) *CatalogConfig { return &CatalogConfig{Type: "memory"} }},
		{"Badger", func(dir string) *CatalogConfig {
			return &CatalogConfig{Type: "badger", Badger: map[string]any{"path": filepath.Join(dir, "badger")}}
		}},
		{"LevelDB", func(dir string) *CatalogConfig {
			return &CatalogConfig{Type: "leveldb", LevelDB: map[string]any{"path": filepath.Join(dir, "leveldb")}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, err := CreateCatalog(context.Background(), tt.cfg(t.TempDir()))
			if err != nil {
				t.Fatalf("Failed to create catalog: %v", err)
			}
			if err := cat.Close(); err != nil {
				t.Errorf("Close failed: %v", err)
			}
		})
	}
}

func TestCreateCatalog_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  *CatalogConfig
		want string
	}{
		{"UnknownType", &CatalogConfig{Type: "sqlite"}, "unknown catalog type"},
		{"BadgerMissingPath", &CatalogConfig{Type: "badger", Badger: map[string]any{}}, "path is required"},
		{"LevelDBMissingPath", &CatalogConfig{Type: "leveldb"}, "path is required"},
		{"RedisMissingAddress", &CatalogConfig{Type: "redis", Redis: map[string]any{}}, "address is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateCatalog(context.Background(), tt.cfg)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestCreatePlugins(t *testing.T) {
	ctx := context.Background()
	cfg := GetDefaultConfig()

	store, err := contentMemory.NewMemoryContentStore(ctx)
	if err != nil {
		t.Fatalf("Failed to create content store: %v", err)
	}

	reg, err := CreatePlugins(cfg, store, catalogMemory.NewMemoryCatalog())
	if err != nil {
		t.Fatalf("CreatePlugins failed: %v", err)
	}

	aliases := reg.Aliases()
	if len(aliases) != 2 || aliases[0] != "library" || aliases[1] != "noop" {
		t.Errorf("Expected aliases [library noop], got %v", aliases)
	}
	if reg.DefaultAlias() != "noop" {
		t.Errorf("Expected default alias 'noop', got %q", reg.DefaultAlias())
	}
	if _, err := reg.Lookup("library"); err != nil {
		t.Errorf("Lookup(library) failed: %v", err)
	}
}

func TestCreatePlugins_LibraryNeedsBackends(t *testing.T) {
	cfg := GetDefaultConfig()

	if _, err := CreatePlugins(cfg, nil, nil); err == nil {
		t.Fatal("Expected error for a library plugin without content store and catalog")
	}
}

func TestCreatePlugins_InvalidLibraryOptions(t *testing.T) {
	ctx := context.Background()
	cfg := GetDefaultConfig()
	cfg.Plugins[1].Options["max_upload_sise"] = 10

	store, _ := contentMemory.NewMemoryContentStore(ctx)
	_, err := CreatePlugins(cfg, store, catalogMemory.NewMemoryCatalog())
	if err == nil {
		t.Fatal("Expected error for an unknown library option")
	}
	if !strings.Contains(err.Error(), `plugins[1] "library"`) {
		t.Errorf("Expected the error to name the plugin, got: %v", err)
	}
}

func TestNeedsLibraryBackends(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if NeedsLibraryBackends(cfg) {
		t.Error("The noop-only default must not need library backends")
	}

	if !NeedsLibraryBackends(GetDefaultConfig()) {
		t.Error("A config with a library plugin needs library backends")
	}
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	cfg := GetDefaultConfig()

	result := InitializeMetrics(cfg)
	if result.Server != nil {
		t.Error("Expected no metrics server when metrics are disabled")
	}
	if result.Upload == nil || result.GC == nil {
		t.Error("Expected no-op metrics when metrics are disabled")
	}
}

func TestInitializeMetrics_SharedPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = cfg.Server.Port

	result := InitializeMetrics(cfg)
	if result.Server != nil {
		t.Error("Expected no separate metrics server when ports are shared")
	}
	if result.Handler == nil {
		t.Error("Expected a metrics handler for the upload server")
	}
}

func TestInitializeMetrics_SeparatePort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = cfg.Server.Port + 1

	result := InitializeMetrics(cfg)
	if result.Server == nil {
		t.Error("Expected a metrics server on its own port")
	}
	if result.Handler != nil {
		t.Error("Expected no shared metrics handler")
	}
}
