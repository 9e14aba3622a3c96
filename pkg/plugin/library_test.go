package plugin

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rugalib/ruga-filepond/pkg/catalog"
	catalogmemory "github.com/rugalib/ruga-filepond/pkg/catalog/memory"
	contentmemory "github.com/rugalib/ruga-filepond/pkg/content/memory"
	"github.com/rugalib/ruga-filepond/pkg/router"
	"github.com/rugalib/ruga-filepond/pkg/transfer"
	"github.com/rugalib/ruga-filepond/pkg/upload"
)

type libraryFixture struct {
	lib     *Library
	store   *transfer.Store
	content *contentmemory.MemoryContentStore
	catalog *catalogmemory.MemoryCatalog
}

func newLibraryFixture(t *testing.T, cfg LibraryConfig) *libraryFixture {
	t.Helper()

	contentStore, err := contentmemory.NewMemoryContentStore(context.Background())
	require.NoError(t, err)
	cat := catalogmemory.NewMemoryCatalog()

	lib, err := NewLibrary(cfg, contentStore, cat)
	require.NoError(t, err)

	return &libraryFixture{
		lib:     lib,
		store:   newTestStore(t),
		content: contentStore,
		catalog: cat,
	}
}

// completedSession stages data as a finished chunked transfer.
func (f *libraryFixture) completedSession(t *testing.T, name string, data []byte, metadata map[string]any) *upload.Session {
	t.Helper()
	ctx := context.Background()

	s := upload.NewChunked(f.store, metadata, int64(len(data)))
	s.SetName(name)
	_, err := s.AppendChunk(ctx, bytes.NewReader(data), 0)
	require.NoError(t, err)
	require.NoError(t, s.Finalize(ctx))
	require.NoError(t, s.Persist(ctx))
	return s
}

func TestNewLibraryRequiresStores(t *testing.T) {
	contentStore, err := contentmemory.NewMemoryContentStore(context.Background())
	require.NoError(t, err)

	_, err = NewLibrary(LibraryConfig{}, nil, catalogmemory.NewMemoryCatalog())
	assert.Error(t, err)
	_, err = NewLibrary(LibraryConfig{}, contentStore, nil)
	assert.Error(t, err)
	_, err = NewLibrary(LibraryConfig{DefaultLibrary: "a:b"}, contentStore, catalogmemory.NewMemoryCatalog())
	assert.Error(t, err)
	_, err = NewLibrary(LibraryConfig{MaxUploadSize: -1}, contentStore, catalogmemory.NewMemoryCatalog())
	assert.Error(t, err)
}

func TestLibraryPreProcess(t *testing.T) {
	f := newLibraryFixture(t, LibraryConfig{DefaultLibrary: "inbox"})

	ctx, err := f.lib.PreProcess(context.Background(), &router.Request{Path: "/library/contracts"})
	require.NoError(t, err)
	assert.Equal(t, "contracts", LibraryFromContext(ctx))

	ctx, err = f.lib.PreProcess(context.Background(), &router.Request{Path: "/library"})
	require.NoError(t, err)
	assert.Equal(t, "inbox", LibraryFromContext(ctx))

	_, err = f.lib.PreProcess(context.Background(), &router.Request{Path: "/library/a:b"})
	assert.Equal(t, http.StatusBadRequest, upload.StatusCode(err))
}

func TestLibrarySizeLimit(t *testing.T) {
	ctx := context.Background()

	unlimited := newLibraryFixture(t, LibraryConfig{})
	assert.True(t, unlimited.lib.IsUploadSizeAllowed(ctx, 1<<40, 1<<40))

	limited := newLibraryFixture(t, LibraryConfig{MaxUploadSize: 1000})
	assert.True(t, limited.lib.IsUploadSizeAllowed(ctx, 1000, 0))
	assert.True(t, limited.lib.IsUploadSizeAllowed(ctx, 0, 1000))
	assert.False(t, limited.lib.IsUploadSizeAllowed(ctx, 1001, 0))
	assert.False(t, limited.lib.IsUploadSizeAllowed(ctx, 10, 1001))
}

func TestLibraryFileTypes(t *testing.T) {
	ctx := context.Background()
	f := newLibraryFixture(t, LibraryConfig{AllowedTypes: []string{"application/pdf", "image/*"}})

	tests := []struct {
		mimeType string
		want     bool
	}{
		{"application/pdf", true},
		{"image/png", true},
		{"image/jpeg", true},
		{"text/plain", false},
		{"application/zip", false},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.mimeType, func(t *testing.T) {
			s := upload.NewAtomic(f.store, upload.FilePart{Name: "x", MimeType: tt.mimeType, Size: 1}, nil)
			assert.Equal(t, tt.want, f.lib.IsFileTypeAllowed(ctx, s))
		})
	}

	open := newLibraryFixture(t, LibraryConfig{})
	s := upload.NewAtomic(open.store, upload.FilePart{Name: "x", MimeType: "text/plain", Size: 1}, nil)
	assert.True(t, open.lib.IsFileTypeAllowed(ctx, s))
}

func TestLibraryRequireLinkTo(t *testing.T) {
	ctx := context.Background()
	f := newLibraryFixture(t, LibraryConfig{RequireLinkTo: true})

	without := upload.NewChunked(f.store, map[string]any{}, 10)
	assert.False(t, f.lib.IsUploadAllowed(ctx, without))

	with := upload.NewChunked(f.store, map[string]any{"linkTo": "case-1"}, 10)
	assert.True(t, f.lib.IsUploadAllowed(ctx, with))

	relaxed := newLibraryFixture(t, LibraryConfig{})
	assert.True(t, relaxed.lib.IsUploadAllowed(ctx, without))
}

func TestLibraryFetchHosts(t *testing.T) {
	ctx := context.Background()
	f := newLibraryFixture(t, LibraryConfig{AllowedFetchHosts: []string{"Files.Example.test"}})
	s := upload.NewFetch(f.store, "")

	assert.True(t, f.lib.IsFetchURLAllowed(ctx, s, "https://files.example.test/a.png"))
	assert.True(t, f.lib.IsFetchURLAllowed(ctx, s, "http://files.example.test:8080/a.png"))
	assert.False(t, f.lib.IsFetchURLAllowed(ctx, s, "https://evil.test/a.png"))
	assert.False(t, f.lib.IsFetchURLAllowed(ctx, s, "file:///etc/passwd"))
	assert.False(t, f.lib.IsFetchURLAllowed(ctx, s, "::not a url"))

	open := newLibraryFixture(t, LibraryConfig{})
	assert.True(t, open.lib.IsFetchURLAllowed(ctx, s, "https://evil.test/a.png"))
	assert.False(t, open.lib.IsFetchURLAllowed(ctx, s, "ftp://evil.test/a.png"))
}

func TestLibraryUploadCompleteStoresDocument(t *testing.T) {
	f := newLibraryFixture(t, LibraryConfig{})
	ctx := WithLibrary(context.Background(), "contracts")

	data := []byte(strings.Repeat("contract ", 100))
	s := f.completedSession(t, "contract.txt", data, map[string]any{
		"linkTo":       "case-42",
		"documentType": "agreement",
	})

	resp, err := f.lib.UploadComplete(ctx, s, s.TextResponse(http.StatusCreated))
	require.NoError(t, err)
	defer resp.Close()

	assert.Equal(t, http.StatusCreated, resp.Status)
	docID := resp.Header.Get(HeaderDocumentID)
	require.NotEmpty(t, docID)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, docID, string(body))

	doc, err := f.catalog.Get(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, "contracts", doc.Library)
	assert.Equal(t, "contract.txt", doc.Name)
	assert.Equal(t, int64(len(data)), doc.Size)
	assert.Equal(t, "agreement", doc.DocumentType)
	assert.Equal(t, "case-42", doc.LinkTo)

	rc, err := f.content.Open(context.Background(), doc.ContentID)
	require.NoError(t, err)
	stored, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	assert.False(t, f.store.Exists(s.ID()), "staging directory is released")

	docs, err := f.catalog.List(context.Background(), "contracts")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestLibraryUploadCompleteNoContent(t *testing.T) {
	f := newLibraryFixture(t, LibraryConfig{})
	ctx := WithLibrary(context.Background(), "inbox")

	s := f.completedSession(t, "a.bin", []byte("0123456789"), nil)

	resp, err := f.lib.UploadComplete(ctx, s, upload.NewResponse(http.StatusNoContent))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Nil(t, resp.Body)
	assert.NotEmpty(t, resp.Header.Get(HeaderDocumentID))

	doc, err := f.catalog.Get(context.Background(), resp.Header.Get(HeaderDocumentID))
	require.NoError(t, err)
	assert.Equal(t, catalog.DefaultDocumentType, doc.DocumentType)
}

func TestLibraryLoadRoundTrip(t *testing.T) {
	f := newLibraryFixture(t, LibraryConfig{})
	ctx := WithLibrary(context.Background(), "contracts")

	data := []byte("%PDF-1.4 fake")
	s := f.completedSession(t, "a.pdf", data, map[string]any{"linkTo": "case-1"})
	resp, err := f.lib.UploadComplete(ctx, s, s.TextResponse(http.StatusCreated))
	require.NoError(t, err)
	docID := resp.Header.Get(HeaderDocumentID)
	resp.Close()

	load := upload.NewLoad(f.store, docID)
	require.NoError(t, f.lib.LoadFileInformation(ctx, load))
	assert.Equal(t, "a.pdf", load.Name())
	assert.Equal(t, int64(len(data)), load.DeclaredSize())
	assert.True(t, f.lib.IsLoadAllowed(ctx, load))
	assert.False(t, f.lib.IsLoadAllowed(WithLibrary(context.Background(), "other"), load))

	rc, err := f.lib.OpenForeign(ctx, load)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestLibraryLoadUnknownDocument(t *testing.T) {
	f := newLibraryFixture(t, LibraryConfig{})

	load := upload.NewLoad(f.store, "missing")
	err := f.lib.LoadFileInformation(context.Background(), load)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, upload.StatusCode(err))
}
