package testing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rugalib/ruga-filepond/pkg/content"
)

func (suite *StoreTestSuite) testPutAndOpen(t *testing.T) {
	store := suite.NewStore()
	data := generateTestData(64 * 1024)

	mustPut(t, store, "doc-1", data)

	assert.Equal(t, data, mustRead(t, store, "doc-1"))
	assertExists(t, store, "doc-1", true)

	size, err := store.Size(testContext(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
}

func (suite *StoreTestSuite) testPutReplaces(t *testing.T) {
	store := suite.NewStore()

	mustPut(t, store, "doc-1", []byte("first version"))
	mustPut(t, store, "doc-1", []byte("second"))

	assert.Equal(t, []byte("second"), mustRead(t, store, "doc-1"))
}

func (suite *StoreTestSuite) testPutSizeMismatch(t *testing.T) {
	store := suite.NewStore()

	_, err := store.Put(testContext(), "short", strings.NewReader("abc"), 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, content.ErrSizeMismatch), "got %v", err)
	assertExists(t, store, "short", false)

	// Unknown size accepts any length.
	n, err := store.Put(testContext(), "unknown", io.MultiReader(strings.NewReader("ab"), strings.NewReader("cd")), -1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func (suite *StoreTestSuite) testPutInvalidID(t *testing.T) {
	store := suite.NewStore()

	_, err := store.Put(testContext(), "", bytes.NewReader(nil), 0)
	assert.True(t, errors.Is(err, content.ErrInvalidID), "got %v", err)
}

func (suite *StoreTestSuite) testMissing(t *testing.T) {
	store := suite.NewStore()

	_, err := store.Open(testContext(), "missing")
	assert.True(t, errors.Is(err, content.ErrContentNotFound), "got %v", err)

	_, err = store.Size(testContext(), "missing")
	assert.True(t, errors.Is(err, content.ErrContentNotFound), "got %v", err)

	assertExists(t, store, "missing", false)
}

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	store := suite.NewStore()
	mustPut(t, store, "doc-1", []byte("bytes"))

	require.NoError(t, store.Delete(testContext(), "doc-1"))
	assertExists(t, store, "doc-1", false)

	err := store.Delete(testContext(), "doc-1")
	assert.True(t, errors.Is(err, content.ErrContentNotFound), "got %v", err)
}

func (suite *StoreTestSuite) testList(t *testing.T) {
	store := suite.NewStore()
	mustPut(t, store, "a", []byte("1"))
	mustPut(t, store, "b/c", []byte("2"))

	ids, err := store.List(testContext())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b/c"}, ids)
}

func (suite *StoreTestSuite) testCancelledContext(t *testing.T) {
	store := suite.NewStore()

	ctx, cancel := context.WithCancel(testContext())
	cancel()

	_, err := store.Put(ctx, "doc", strings.NewReader("x"), 1)
	assert.Error(t, err)
	_, err = store.Open(ctx, "doc")
	assert.Error(t, err)
}
