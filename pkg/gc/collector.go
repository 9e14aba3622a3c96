// Package gc removes abandoned transfers from the staging area.
//
// A transfer is abandoned when a client announced or uploaded a file and
// never came back to revert it or to have it handed off. This happens when:
//   - The user closes the page during a chunked upload
//   - A form with uploaded files is never submitted
//   - The server crashes between upload and hand-off
//
// Multipart spool files left behind by interrupted requests are removed as
// well.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rugalib/ruga-filepond/internal/logger"
	"github.com/rugalib/ruga-filepond/pkg/metrics"
	"github.com/rugalib/ruga-filepond/pkg/transfer"
)

// Collector performs periodic garbage collection on a transfer store.
//
// The collector runs in the background and periodically removes staging
// directories that have not been touched for longer than MaxAge.
//
// Thread Safety: Safe for concurrent use.
type Collector struct {
	store   *transfer.Store
	config  Config
	metrics metrics.GCMetrics

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	mu        sync.Mutex
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Config contains configuration for the garbage collector.
type Config struct {
	// Enabled controls whether background collection is active
	Enabled bool

	// Interval is how often to run garbage collection (default: 1h)
	Interval time.Duration

	// MaxAge is how long a transfer may stay untouched (default: 24h)
	MaxAge time.Duration

	// DryRun mode logs what would be deleted without actually deleting
	DryRun bool
}

// NewCollector creates a new garbage collector.
//
// The collector will be initialized but not started. Call Start() to begin
// background garbage collection.
//
// Parameters:
//   - store: Transfer store to sweep
//   - config: Garbage collection configuration
//   - m: Metrics sink, nil for none
//
// Returns:
//   - *Collector: Initialized collector (not started)
//   - error: Returns error if the store is missing
func NewCollector(store *transfer.Store, config Config, m metrics.GCMetrics) (*Collector, error) {
	if store == nil {
		return nil, fmt.Errorf("transfer store is required")
	}

	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 24 * time.Hour
	}
	if m == nil {
		m = metrics.NewNoopGCMetrics()
	}

	return &Collector{
		store:   store,
		config:  config,
		metrics: m,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins background garbage collection.
//
// Safe to call multiple times (subsequent calls are no-ops).
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Garbage collection disabled")
		return
	}

	c.startOnce.Do(func() {
		logger.Info("Starting garbage collector: interval=%s max_age=%s dry_run=%v",
			c.config.Interval, c.config.MaxAge, c.config.DryRun)

		c.mu.Lock()
		c.started = true
		c.mu.Unlock()

		go c.worker()
	})
}

// Stop stops the garbage collector and waits for it to finish.
//
// Safe to call multiple times and when Start was never called.
//
// Returns:
//   - error: Returns error if context expires before shutdown completes
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil
	}

	c.stopOnce.Do(func() {
		logger.Info("Stopping garbage collector...")
		close(c.stopCh)
	})

	select {
	case <-c.doneCh:
		logger.Debug("Garbage collector stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Garbage collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow triggers an immediate garbage collection run and blocks until it
// completes.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Debug("Running garbage collection (manual trigger)...")
	return c.collect(ctx)
}

// worker is the background goroutine that runs periodic garbage collection.
func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Garbage collection failed: %v", err)
			} else if stats.RemovedTransfers > 0 || stats.RemovedSpools > 0 {
				logger.Info("Garbage collection completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// collect performs a single garbage collection run.
//
//  1. List staging directories and remove those older than MaxAge
//  2. List spool files and remove those older than MaxAge
func (c *Collector) collect(ctx context.Context) (stats *Stats, err error) {
	stats = &Stats{StartTime: time.Now()}
	defer func() {
		stats.EndTime = time.Now()
		c.metrics.RecordRun(stats.RemovedTransfers, stats.RemovedSpools, stats.BytesReleased, stats.Duration(), err)
	}()

	cutoff := stats.StartTime.Add(-c.config.MaxAge)

	// ========================================================================
	// Phase 1: Transfers
	// ========================================================================

	entries, err := c.store.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list transfers: %w", err)
	}
	stats.ScannedTransfers = len(entries)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if !entry.ModTime.Before(cutoff) {
			continue
		}

		usage, _ := c.store.Usage(entry.ID)

		if c.config.DryRun {
			logger.Info("GC: DRY RUN - would remove transfer %s (last modified %s)", entry.ID, entry.ModTime.Format(time.RFC3339))
			stats.RemovedTransfers++
			stats.BytesReleased += usage
			continue
		}

		if err := c.store.Remove(entry.ID); err != nil {
			logger.Warn("GC: failed to remove transfer %s: %v", entry.ID, err)
			stats.Failed++
			continue
		}
		logger.Debug("GC: removed transfer %s", entry.ID)
		stats.RemovedTransfers++
		stats.BytesReleased += usage
	}

	// ========================================================================
	// Phase 2: Spool files
	// ========================================================================

	spools, err := c.store.ListIncoming()
	if err != nil {
		return stats, fmt.Errorf("failed to list spool files: %w", err)
	}

	for _, entry := range spools {
		if !entry.ModTime.Before(cutoff) {
			continue
		}

		if c.config.DryRun {
			logger.Info("GC: DRY RUN - would remove spool file %s", entry.ID)
			stats.RemovedSpools++
			stats.BytesReleased += entry.Size
			continue
		}

		if err := c.store.RemoveIncoming(entry.ID); err != nil {
			logger.Warn("GC: failed to remove spool file %s: %v", entry.ID, err)
			stats.Failed++
			continue
		}
		stats.RemovedSpools++
		stats.BytesReleased += entry.Size
	}

	return stats, nil
}

// Stats contains statistics from a garbage collection run.
type Stats struct {
	StartTime        time.Time // When collection started
	EndTime          time.Time // When collection ended
	ScannedTransfers int       // Number of staging directories found
	RemovedTransfers int       // Number of staging directories removed (or that would be, in dry run)
	RemovedSpools    int       // Number of spool files removed
	BytesReleased    int64     // Bytes held by the removed entries
	Failed           int       // Number of entries that could not be removed
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("scanned=%d removed=%d spools=%d released=%dB failed=%d duration=%s",
		s.ScannedTransfers, s.RemovedTransfers, s.RemovedSpools,
		s.BytesReleased, s.Failed, s.Duration())
}
