package gc

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rugalib/ruga-filepond/pkg/transfer"
)

func newStore(t *testing.T) *transfer.Store {
	t.Helper()
	store, err := transfer.NewStore(context.Background(), t.TempDir())
	require.NoError(t, err)
	return store
}

// stageTransfer creates a transfer whose files were last modified at modTime.
func stageTransfer(t *testing.T, store *transfer.Store, modTime time.Time) string {
	t.Helper()
	id := transfer.NewID()

	require.NoError(t, store.Save(&transfer.Snapshot{TransferID: id, Name: "a.bin", DeclaredSize: 4}))
	_, err := store.WriteData(context.Background(), id, bytes.NewReader([]byte("data")), -1)
	require.NoError(t, err)

	dir := store.Dir(id)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, os.Chtimes(filepath.Join(dir, e.Name()), modTime, modTime))
	}
	require.NoError(t, os.Chtimes(dir, modTime, modTime))
	return id
}

func TestRunNowRemovesOnlyStaleTransfers(t *testing.T) {
	store := newStore(t)
	stale := stageTransfer(t, store, time.Now().Add(-48*time.Hour))
	fresh := stageTransfer(t, store, time.Now())

	c, err := NewCollector(store, Config{MaxAge: 24 * time.Hour}, nil)
	require.NoError(t, err)

	stats, err := c.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.ScannedTransfers)
	assert.Equal(t, 1, stats.RemovedTransfers)
	assert.Positive(t, stats.BytesReleased)
	assert.False(t, store.Exists(stale))
	assert.True(t, store.Exists(fresh))
	assert.Contains(t, stats.Summary(), "removed=1")
}

func TestDryRunKeepsEverything(t *testing.T) {
	store := newStore(t)
	stale := stageTransfer(t, store, time.Now().Add(-48*time.Hour))

	c, err := NewCollector(store, Config{MaxAge: time.Hour, DryRun: true}, nil)
	require.NoError(t, err)

	stats, err := c.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RemovedTransfers)
	assert.True(t, store.Exists(stale))
}

func TestStaleSpoolFilesRemoved(t *testing.T) {
	store := newStore(t)

	old, err := store.Spool()
	require.NoError(t, err)
	_, err = old.Write([]byte("abandoned"))
	require.NoError(t, err)
	require.NoError(t, old.Close())
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old.Name(), past, past))

	recent, err := store.Spool()
	require.NoError(t, err)
	require.NoError(t, recent.Close())

	c, err := NewCollector(store, Config{MaxAge: time.Hour}, nil)
	require.NoError(t, err)

	stats, err := c.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RemovedSpools)
	assert.Equal(t, int64(len("abandoned")), stats.BytesReleased)

	_, err = os.Stat(old.Name())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(recent.Name())
	assert.NoError(t, err)
}

func TestStartStop(t *testing.T) {
	store := newStore(t)
	stale := stageTransfer(t, store, time.Now().Add(-48*time.Hour))

	c, err := NewCollector(store, Config{Enabled: true, Interval: 10 * time.Millisecond, MaxAge: time.Hour}, nil)
	require.NoError(t, err)

	c.Start()
	c.Start()

	assert.Eventually(t, func() bool { return !store.Exists(stale) }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
}

func TestStopWithoutStart(t *testing.T) {
	c, err := NewCollector(newStore(t), Config{}, nil)
	require.NoError(t, err)
	assert.NoError(t, c.Stop(context.Background()))
}

func TestNewCollectorRequiresStore(t *testing.T) {
	_, err := NewCollector(nil, Config{}, nil)
	assert.Error(t, err)
}
