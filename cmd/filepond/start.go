package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rugalib/ruga-filepond/internal/logger"
	"github.com/rugalib/ruga-filepond/pkg/catalog"
	"github.com/rugalib/ruga-filepond/pkg/config"
	"github.com/rugalib/ruga-filepond/pkg/content"
	"github.com/rugalib/ruga-filepond/pkg/engine"
	"github.com/rugalib/ruga-filepond/pkg/fetch"
	"github.com/rugalib/ruga-filepond/pkg/gc"
	"github.com/rugalib/ruga-filepond/pkg/server"
	"github.com/rugalib/ruga-filepond/pkg/transfer"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the upload server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/filepond/config.yaml)")
	return cmd
}

// run wires the components and serves until SIGINT or SIGTERM.
func run(cfg *config.Config) error {
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Filepond upload server %s", version)

	// ========================================================================
	// Step 1: Staging area
	// ========================================================================

	store, err := transfer.NewStore(ctx, cfg.Staging.Path)
	if err != nil {
		return fmt.Errorf("failed to open staging area: %w", err)
	}
	logger.Info("Staging area: %s", store.BasePath())

	// ========================================================================
	// Step 2: Library backends (only when a library plugin is configured)
	// ========================================================================

	var (
		contentStore content.Store
		cat          catalog.Catalog
	)
	if config.NeedsLibraryBackends(cfg) {
		contentStore, err = config.CreateContentStore(ctx, &cfg.Content)
		if err != nil {
			return err
		}
		logger.Info("Content store: %s", cfg.Content.Type)

		cat, err = config.CreateCatalog(ctx, &cfg.Catalog)
		if err != nil {
			return err
		}
		defer func() {
			if err := cat.Close(); err != nil {
				logger.Warn("Failed to close catalog: %v", err)
			}
		}()
		logger.Info("Catalog: %s", cfg.Catalog.Type)
	}

	// ========================================================================
	// Step 3: Plugins, metrics and engine
	// ========================================================================

	plugins, err := config.CreatePlugins(cfg, contentStore, cat)
	if err != nil {
		return err
	}

	m := config.InitializeMetrics(cfg)

	eng := engine.New(engine.Config{
		MinFreeBytes: cfg.Staging.MinFreeBytes,
		MaxFetchSize: cfg.Fetch.MaxSize,
	}, store, plugins, fetch.New(cfg.Fetch.Timeout), m.Upload)

	// ========================================================================
	// Step 4: Background services
	// ========================================================================

	collector, err := gc.NewCollector(store, gc.Config{
		Enabled:  cfg.GC.Enabled,
		Interval: cfg.GC.Interval,
		MaxAge:   cfg.GC.MaxAge,
		DryRun:   cfg.GC.DryRun,
	}, m.GC)
	if err != nil {
		return err
	}
	collector.Start()

	if m.Server != nil {
		go func() {
			if err := m.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	// ========================================================================
	// Step 5: Serve until a signal arrives
	// ========================================================================

	srv := server.New(server.Config{
		Port:              cfg.Server.Port,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		FieldName:         cfg.Server.FieldName,
		MaxMemory:         cfg.Server.MaxMemory,
		MaxBodySize:       cfg.Server.MaxBodySize,
		Metrics:           m.Handler,
		AllowedOrigins:    cfg.Server.CORS.AllowedOrigins,
		RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
		Burst:             cfg.Server.RateLimit.Burst,
	}, eng)

	serveErr := srv.Start(ctx)
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		logger.Error("Upload server error: %v", serveErr)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := collector.Stop(stopCtx); err != nil {
		logger.Warn("Garbage collector stop: %v", err)
	}

	// Give the metrics server its own shutdown window.
	if m.Server != nil {
		metricsCtx, metricsCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer metricsCancel()
		_ = m.Server.Stop(metricsCtx)
	}

	logger.Info("Server stopped")
	return serveErr
}
