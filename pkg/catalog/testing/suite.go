package testing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rugalib/ruga-filepond/pkg/catalog"
)

// CatalogTestSuite tests the catalog.Catalog contract. Each backend runs it
// with a factory returning a fresh, empty catalog.
//
// Usage:
//
//	suite := &testing.CatalogTestSuite{
//	    NewCatalog: func(t *testing.T) catalog.Catalog { return memory.NewMemoryCatalog() },
//	}
//	suite.Run(t)
type CatalogTestSuite struct {
	NewCatalog func(t *testing.T) catalog.Catalog
}

// Run executes all tests in the suite.
func (suite *CatalogTestSuite) Run(t *testing.T) {
	t.Run("PutAndGet", suite.testPutAndGet)
	t.Run("Replace", suite.testReplace)
	t.Run("MoveLibrary", suite.testMoveLibrary)
	t.Run("Delete", suite.testDelete)
	t.Run("List", suite.testList)
	t.Run("Invalid", suite.testInvalid)
}

func (suite *CatalogTestSuite) open(t *testing.T) catalog.Catalog {
	t.Helper()
	c := suite.NewCatalog(t)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newDocument(id, library string) *catalog.Document {
	return &catalog.Document{
		ID:           id,
		Library:      library,
		Name:         id + ".pdf",
		MimeType:     "application/pdf",
		Size:         1024,
		ContentID:    "content-" + id,
		DocumentType: catalog.DefaultDocumentType,
		LinkTo:       "case-1",
		Metadata:     map[string]any{"source": "test"},
		CreatedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (suite *CatalogTestSuite) testPutAndGet(t *testing.T) {
	c := suite.open(t)
	ctx := context.Background()
	doc := newDocument("doc-1", "contracts")

	require.NoError(t, c.Put(ctx, doc))

	got, err := c.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc.Name, got.Name)
	assert.Equal(t, doc.Library, got.Library)
	assert.Equal(t, doc.ContentID, got.ContentID)
	assert.Equal(t, doc.Size, got.Size)
	assert.Equal(t, doc.LinkTo, got.LinkTo)
	assert.Equal(t, "test", got.Metadata["source"])
	assert.True(t, doc.CreatedAt.Equal(got.CreatedAt))
}

func (suite *CatalogTestSuite) testReplace(t *testing.T) {
	c := suite.open(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, newDocument("doc-1", "contracts")))
	updated := newDocument("doc-1", "contracts")
	updated.Name = "renamed.pdf"
	require.NoError(t, c.Put(ctx, updated))

	got, err := c.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed.pdf", got.Name)

	docs, err := c.List(ctx, "contracts")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func (suite *CatalogTestSuite) testMoveLibrary(t *testing.T) {
	c := suite.open(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, newDocument("doc-1", "contracts")))
	require.NoError(t, c.Put(ctx, newDocument("doc-1", "invoices")))

	docs, err := c.List(ctx, "contracts")
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = c.List(ctx, "invoices")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-1", docs[0].ID)
}

func (suite *CatalogTestSuite) testDelete(t *testing.T) {
	c := suite.open(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, newDocument("doc-1", "contracts")))
	require.NoError(t, c.Delete(ctx, "doc-1"))

	_, err := c.Get(ctx, "doc-1")
	assert.True(t, errors.Is(err, catalog.ErrDocumentNotFound), "got %v", err)

	err = c.Delete(ctx, "doc-1")
	assert.True(t, errors.Is(err, catalog.ErrDocumentNotFound), "got %v", err)

	docs, err := c.List(ctx, "contracts")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func (suite *CatalogTestSuite) testList(t *testing.T) {
	c := suite.open(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, newDocument("a", "contracts")))
	require.NoError(t, c.Put(ctx, newDocument("b", "contracts")))
	require.NoError(t, c.Put(ctx, newDocument("c", "contracts-archive")))

	docs, err := c.List(ctx, "contracts")
	require.NoError(t, err)

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	docs, err = c.List(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func (suite *CatalogTestSuite) testInvalid(t *testing.T) {
	c := suite.open(t)
	ctx := context.Background()

	err := c.Put(ctx, &catalog.Document{Library: "contracts"})
	assert.True(t, errors.Is(err, catalog.ErrInvalidDocument), "got %v", err)

	err = c.Put(ctx, &catalog.Document{ID: "x"})
	assert.True(t, errors.Is(err, catalog.ErrInvalidDocument), "got %v", err)

	err = c.Put(ctx, &catalog.Document{ID: "x", Library: "a:b"})
	assert.True(t, errors.Is(err, catalog.ErrInvalidDocument), "got %v", err)
}
