package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/rugalib/ruga-filepond/internal/logger"
	"github.com/rugalib/ruga-filepond/pkg/catalog"
	catalogBadger "github.com/rugalib/ruga-filepond/pkg/catalog/badger"
	catalogLevelDB "github.com/rugalib/ruga-filepond/pkg/catalog/leveldb"
	catalogMemory "github.com/rugalib/ruga-filepond/pkg/catalog/memory"
	catalogRedis "github.com/rugalib/ruga-filepond/pkg/catalog/redis"
	"github.com/rugalib/ruga-filepond/pkg/content"
	contentFs "github.com/rugalib/ruga-filepond/pkg/content/fs"
	contentMemory "github.com/rugalib/ruga-filepond/pkg/content/memory"
	contentS3 "github.com/rugalib/ruga-filepond/pkg/content/s3"
	"github.com/rugalib/ruga-filepond/pkg/plugin"
)

// decodeOptions decodes a backend section into out. Unknown keys are
// rejected so typos in the config file surface at startup.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// CreateContentStore creates a content store based on configuration.
//
// This factory function uses the Type field to determine which store implementation
// to create, then decodes the type-specific configuration from the corresponding
// map and passes it to the store's constructor.
//
// Supported types:
//   - "filesystem": Uses pkg/content/fs (local filesystem storage)
//   - "memory": Uses pkg/content/memory (volatile, for tests and demos)
//   - "s3": Uses pkg/content/s3 (Amazon S3 or compatible storage)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Content store configuration
//
// Returns:
//   - content.Store: Initialized content store
//   - error: Configuration or initialization error
func CreateContentStore(ctx context.Context, cfg *ContentConfig) (content.Store, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemContentStore(ctx, cfg.Filesystem)
	case "memory":
		return contentMemory.NewMemoryContentStore(ctx)
	case "s3":
		return createS3ContentStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown content store type: %q", cfg.Type)
	}
}

func createFilesystemContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	type FilesystemContentStoreConfig struct {
		Path string `mapstructure:"path"`
	}

	var storeCfg FilesystemContentStoreConfig
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem content store config: %w", err)
	}

	if storeCfg.Path == "" {
		return nil, fmt.Errorf("filesystem content store: path is required")
	}

	store, err := contentFs.NewFSContentStore(ctx, storeCfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem content store: %w", err)
	}

	return store, nil
}

func createS3ContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	type S3ContentStoreConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var storeCfg S3ContentStoreConfig
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 content store config: %w", err)
	}

	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 content store: bucket is required")
	}

	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 content store: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(storeCfg.Region))

	// Static credentials if provided, otherwise the default credential chain
	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			storeCfg.AccessKeyID,
			storeCfg.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := storeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Custom endpoints (MinIO, Localstack) need path-style addressing
		if storeCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(storeCfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Create S3 Content Store
	// ========================================================================

	store, err := contentS3.NewS3ContentStore(ctx, contentS3.S3ContentStoreConfig{
		Client:    client,
		Bucket:    storeCfg.Bucket,
		KeyPrefix: storeCfg.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 content store: %w", err)
	}

	logger.Info("S3 content store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)

	return store, nil
}

// CreateCatalog creates a document catalog based on configuration.
//
// Supported types:
//   - "memory": Uses pkg/catalog/memory (ephemeral)
//   - "badger": Uses pkg/catalog/badger (BadgerDB, persistent)
//   - "leveldb": Uses pkg/catalog/leveldb (LevelDB, persistent)
//   - "redis": Uses pkg/catalog/redis (shared between instances)
func CreateCatalog(ctx context.Context, cfg *CatalogConfig) (catalog.Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return catalogMemory.NewMemoryCatalog(), nil
	case "badger":
		return createBadgerCatalog(ctx, cfg.Badger)
	case "leveldb":
		return createLevelDBCatalog(ctx, cfg.LevelDB)
	case "redis":
		return createRedisCatalog(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown catalog type: %q (supported: memory, badger, leveldb, redis)", cfg.Type)
	}
}

func createBadgerCatalog(ctx context.Context, options map[string]any) (catalog.Catalog, error) {
	type BadgerCatalogOptions struct {
		Path string `mapstructure:"path"`
	}

	var opts BadgerCatalogOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode badger catalog options: %w", err)
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("badger catalog: path is required")
	}

	cat, err := catalogBadger.NewBadgerCatalog(ctx, catalogBadger.BadgerCatalogConfig{DBPath: opts.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to create badger catalog: %w", err)
	}
	return cat, nil
}

func createLevelDBCatalog(ctx context.Context, options map[string]any) (catalog.Catalog, error) {
	type LevelDBCatalogOptions struct {
		Path string `mapstructure:"path"`
	}

	var opts LevelDBCatalogOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode leveldb catalog options: %w", err)
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("leveldb catalog: path is required")
	}

	cat, err := catalogLevelDB.NewLevelDBCatalog(ctx, opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create leveldb catalog: %w", err)
	}
	return cat, nil
}

func createRedisCatalog(ctx context.Context, options map[string]any) (catalog.Catalog, error) {
	type RedisCatalogOptions struct {
		Address   string `mapstructure:"address"`
		Password  string `mapstructure:"password"`
		DB        int    `mapstructure:"db"`
		KeyPrefix string `mapstructure:"key_prefix"`
	}

	var opts RedisCatalogOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode redis catalog options: %w", err)
	}

	cat, err := catalogRedis.NewRedisCatalog(ctx, catalogRedis.RedisCatalogConfig{
		Address:   opts.Address,
		Password:  opts.Password,
		DB:        opts.DB,
		KeyPrefix: opts.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis catalog: %w", err)
	}
	return cat, nil
}

// CreatePlugins builds the plugin registry from the plugin definitions.
//
// Library plugins store finished uploads in contentStore and record them in
// cat; both may be nil when no library plugin is configured.
func CreatePlugins(cfg *Config, contentStore content.Store, cat catalog.Catalog) (*plugin.Registry, error) {
	reg := plugin.NewRegistry(cfg.Server.DefaultPlugin)

	for i, pc := range cfg.Plugins {
		hooks, err := createPlugin(pc, contentStore, cat)
		if err != nil {
			return nil, fmt.Errorf("plugins[%d] %q: %w", i, pc.Alias, err)
		}
		if err := reg.Register(pc.Alias, hooks); err != nil {
			return nil, fmt.Errorf("plugins[%d]: %w", i, err)
		}
		logger.Info("Registered plugin %q (type=%s)", pc.Alias, pc.Type)
	}

	if _, err := reg.Lookup(""); err != nil {
		return nil, fmt.Errorf("default plugin %q is not registered", cfg.Server.DefaultPlugin)
	}
	return reg, nil
}

func createPlugin(pc PluginConfig, contentStore content.Store, cat catalog.Catalog) (plugin.Hooks, error) {
	switch pc.Type {
	case "noop":
		return plugin.NoOp{}, nil
	case "library":
		var libCfg plugin.LibraryConfig
		if err := decodeOptions(pc.Options, &libCfg); err != nil {
			return nil, fmt.Errorf("failed to decode library options: %w", err)
		}
		return plugin.NewLibrary(libCfg, contentStore, cat)
	default:
		return nil, fmt.Errorf("unknown plugin type: %q", pc.Type)
	}
}

// NeedsLibraryBackends reports whether any configured plugin stores
// documents, so the content store and catalog have to be opened.
func NeedsLibraryBackends(cfg *Config) bool {
	for _, p := range cfg.Plugins {
		if p.Type == "library" {
			return true
		}
	}
	return false
}
