package fs

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rugalib/ruga-filepond/pkg/content"
	contenttesting "github.com/rugalib/ruga-filepond/pkg/content/testing"
)

func TestFSContentStore(t *testing.T) {
	suite := &contenttesting.StoreTestSuite{
		NewStore: func() content.Store {
			store, err := NewFSContentStore(context.Background(), t.TempDir())
			if err != nil {
				t.Fatalf("Failed to create FSContentStore: %v", err)
			}
			return store
		},
	}

	suite.Run(t)
}

func TestFSContentStoreHexNames(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSContentStore(context.Background(), dir)
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../escape", strings.NewReader("data"), 4)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, hex.EncodeToString([]byte("../escape")), entries[0].Name())

	_, err = os.Stat(filepath.Join(filepath.Dir(dir), "escape"))
	assert.True(t, os.IsNotExist(err))
}

func TestFSContentStoreFailedPutLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSContentStore(context.Background(), dir)
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "doc", strings.NewReader("abc"), 5)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
