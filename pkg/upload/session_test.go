package upload

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rugalib/ruga-filepond/pkg/transfer"
)

func newTestStore(t *testing.T) *transfer.Store {
	t.Helper()
	store, err := transfer.NewStore(context.Background(), t.TempDir())
	require.NoError(t, err)
	return store
}

// newStartedChunked returns a chunked session that has been persisted, the
// way a chunk-init request leaves it.
func newStartedChunked(t *testing.T, store *transfer.Store, size int64) *Session {
	t.Helper()
	s := NewChunked(store, map[string]any{"linkTo": "case-1"}, size)
	require.NoError(t, s.Persist(context.Background()))
	return s
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return buf
}

func spoolFile(t *testing.T, store *transfer.Store, data []byte) string {
	t.Helper()
	f, err := store.Spool()
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestNewSessionAssignsID(t *testing.T) {
	store := newTestStore(t)

	s := NewChunked(store, nil, 0)
	assert.True(t, transfer.ValidID(s.ID()))
	assert.Equal(t, s.ID(), s.ID())
	assert.Equal(t, UnknownSize, s.DeclaredSize())
	assert.Equal(t, StateNew, s.State())
	assert.NotNil(t, s.Metadata())

	other := NewChunked(store, nil, 0)
	assert.NotEqual(t, s.ID(), other.ID())
}

func TestSetDeclaredSize(t *testing.T) {
	tests := []struct {
		name    string
		initial int64
		set     []int64
		want    int64
	}{
		{"unknown stays unknown on zero", UnknownSize, []int64{0}, UnknownSize},
		{"negative ignored", UnknownSize, []int64{-5}, UnknownSize},
		{"first positive wins", UnknownSize, []int64{100}, 100},
		{"smaller ignored", UnknownSize, []int64{100, 50}, 100},
		{"zero ignored once known", UnknownSize, []int64{100, 0}, 100},
		{"larger accepted", UnknownSize, []int64{100, 200}, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewChunked(newTestStore(t), nil, tt.initial)
			for _, n := range tt.set {
				s.SetDeclaredSize(n)
			}
			assert.Equal(t, tt.want, s.DeclaredSize())
		})
	}
}

func TestChunkedReassembly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	payload := randomBytes(t, 10000)

	s := newStartedChunked(t, store, 10000)

	ranges := [][2]int{{0, 4096}, {4096, 8192}, {8192, 10000}}
	for i, rg := range ranges {
		// Each chunk arrives on its own request.
		restored, err := Restore(store, s.ID())
		require.NoError(t, err)

		n, err := restored.AppendChunk(ctx, bytes.NewReader(payload[rg[0]:rg[1]]), int64(rg[0]))
		require.NoError(t, err)
		assert.Equal(t, int64(rg[1]), n)

		if i < len(ranges)-1 {
			assert.False(t, restored.IsComplete())
			require.NoError(t, restored.Persist(ctx))
			continue
		}

		require.True(t, restored.IsComplete())
		require.NoError(t, restored.Finalize(ctx))
		require.NoError(t, restored.Persist(ctx))
		assert.Equal(t, StateComplete, restored.State())
	}

	data, err := os.ReadFile(store.DataPath(s.ID()))
	require.NoError(t, err)
	assert.Len(t, data, 10000)
	assert.Equal(t, payload, data)
}

func TestOutOfOrderChunkRejected(t *testing.T) {
	store := newTestStore(t)
	s := newStartedChunked(t, store, 10000)

	_, err := s.AppendChunk(context.Background(), bytes.NewReader(make([]byte, 1808)), 8192)
	require.Error(t, err)
	assert.Equal(t, KindOffsetMismatch, KindOf(err))
	assert.Equal(t, http.StatusConflict, StatusCode(err))

	offset, err := s.Offset()
	require.NoError(t, err)
	assert.Zero(t, offset)
}

func TestChunkOverflowRejected(t *testing.T) {
	store := newTestStore(t)
	s := newStartedChunked(t, store, 10)

	_, err := s.AppendChunk(context.Background(), strings.NewReader("0123456789ABC"), 0)
	require.Error(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, StatusCode(err))

	offset, err := s.Offset()
	require.NoError(t, err)
	assert.Zero(t, offset)
}

func TestFinalizeRefusesIncomplete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	s := newStartedChunked(t, store, 100)

	_, err := s.AppendChunk(ctx, strings.NewReader("partial"), 0)
	require.NoError(t, err)

	err = s.Finalize(ctx)
	require.Error(t, err)
	assert.Equal(t, KindOffsetMismatch, KindOf(err))
	assert.False(t, s.HasData())
}

func TestFinalizeUnknownSizeIsIncomplete(t *testing.T) {
	store := newTestStore(t)
	s := newStartedChunked(t, store, 0)

	_, err := s.AppendChunk(context.Background(), strings.NewReader("abc"), 0)
	require.NoError(t, err)

	assert.False(t, s.IsComplete())
	assert.Error(t, s.Finalize(context.Background()))
}

func TestAtomicFinalize(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	content := []byte("%PDF-1.4\n%fake pdf body\n")
	spool := spoolFile(t, store, content)

	s := NewAtomic(store, FilePart{
		Name:      "report.pdf",
		Size:      int64(len(content)),
		SpoolPath: spool,
	}, nil)

	assert.True(t, s.IsAtomic())
	require.True(t, s.IsComplete())
	require.NoError(t, s.Finalize(ctx))
	require.NoError(t, s.Persist(ctx))

	assert.False(t, s.IsAtomic())
	assert.Equal(t, "application/pdf", s.MimeType())

	_, err := os.Stat(spool)
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(store.DataPath(s.ID()))
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestAtomicSizeMismatchIsIncomplete(t *testing.T) {
	store := newTestStore(t)
	spool := spoolFile(t, store, []byte("abc"))

	s := NewAtomic(store, FilePart{Name: "a.txt", Size: 10, SpoolPath: spool}, nil)
	assert.False(t, s.IsComplete())

	s.Discard()
	_, err := os.Stat(spool)
	assert.True(t, os.IsNotExist(err))
}

func TestRestoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	s := NewChunked(store, map[string]any{"linkTo": "case-9", "n": float64(3)}, 42)
	s.SetName("notes.txt")
	s.SetMimeType("Text/Plain; charset=utf-8")
	require.NoError(t, s.Persist(context.Background()))

	restored, err := Restore(store, s.ID())
	require.NoError(t, err)
	assert.Equal(t, s.ID(), restored.ID())
	assert.Equal(t, "notes.txt", restored.Name())
	assert.Equal(t, "text/plain", restored.MimeType())
	assert.Equal(t, int64(42), restored.DeclaredSize())
	assert.Equal(t, "case-9", restored.MetadataString("linkTo"))
	assert.Equal(t, "", restored.MetadataString("n"))
	assert.Equal(t, SourceUpload, restored.Source())
}

func TestRestoreUnknown(t *testing.T) {
	store := newTestStore(t)

	_, err := Restore(store, transfer.NewID())
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))

	_, err = Restore(store, "../../etc")
	require.Error(t, err)
	assert.Equal(t, KindTransferNotFound, KindOf(err))
}

func TestRevertRemovesStaging(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	s := newStartedChunked(t, store, 10)

	require.NoError(t, s.Revert(ctx))
	assert.Equal(t, StateReverted, s.State())
	assert.False(t, store.Exists(s.ID()))

	_, err := Restore(store, s.ID())
	assert.Equal(t, KindTransferNotFound, KindOf(err))
}

func TestStoreData(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	s := NewFetch(store, "http://example.test/a.txt")

	n, err := s.StoreData(ctx, strings.NewReader("remote bytes"), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.Equal(t, int64(12), s.DeclaredSize())
	assert.Equal(t, StateComplete, s.State())
	assert.Equal(t, "text/plain", s.MimeType())
	assert.True(t, s.HasData())

	other := NewFetch(store, "http://example.test/b.txt")
	_, err = other.StoreData(ctx, strings.NewReader("too long"), 3)
	require.Error(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, StatusCode(err))
}

func TestFileResponse(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	content := []byte("hello world")
	spool := spoolFile(t, store, content)

	s := NewAtomic(store, FilePart{Name: `my "file".txt`, MimeType: "text/plain", Size: 11, SpoolPath: spool}, nil)
	require.NoError(t, s.Finalize(ctx))

	resp, err := s.FileResponse()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, resp.WriteTo(rec))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "11", rec.Header().Get(HeaderContentLength))
	assert.Equal(t, "text/plain", rec.Header().Get(HeaderContentType))
	assert.Equal(t, `inline; filename="my \"file\".txt"`, rec.Header().Get(HeaderContentDisposition))
	assert.Equal(t, s.ID(), rec.Header().Get(HeaderTransferID))
	assert.Contains(t, rec.Header().Get(HeaderExposeHeaders), HeaderTransferID)
	assert.Equal(t, content, rec.Body.Bytes())
}

func TestHeadResponse(t *testing.T) {
	store := newTestStore(t)
	s := NewLoad(store, "doc-1")
	s.SetName("a.bin")
	s.SetDeclaredSize(77)

	resp, err := s.HeadResponse()
	require.NoError(t, err)
	assert.Nil(t, resp.Body)
	assert.Equal(t, "77", resp.Header.Get(HeaderContentLength))
	assert.Equal(t, "application/octet-stream", resp.Header.Get(HeaderContentType))
}

func TestOffsetResponse(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	s := newStartedChunked(t, store, 100)

	_, err := s.AppendChunk(ctx, strings.NewReader("0123456789"), 0)
	require.NoError(t, err)

	resp, err := s.OffsetResponse(http.StatusNoContent)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Equal(t, "10", resp.Header.Get(HeaderUploadOffset))
	assert.Equal(t, HeaderUploadOffset, resp.Header.Get(HeaderExposeHeaders))
}

func TestTextResponse(t *testing.T) {
	s := NewChunked(newTestStore(t), nil, 0)
	resp := s.TextResponse(http.StatusCreated)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, s.ID(), string(body))
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestStreamResponseClosesBody(t *testing.T) {
	s := NewLoad(newTestStore(t), "doc-1")
	s.SetDeclaredSize(5)
	body := &closeTracker{Reader: strings.NewReader("hello")}

	rec := httptest.NewRecorder()
	require.NoError(t, s.StreamResponse(body).WriteTo(rec))

	assert.True(t, body.closed)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "5", rec.Header().Get(HeaderContentLength))
}

func TestRestoredSessionDoesNotRecreateRemovedTransfer(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	s := newStartedChunked(t, store, 100)

	restored, err := Restore(store, s.ID())
	require.NoError(t, err)

	require.NoError(t, s.Revert(ctx))

	err = restored.Persist(ctx)
	require.Error(t, err)
	assert.Equal(t, KindTransferNotFound, KindOf(err))
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
	assert.False(t, store.Exists(s.ID()))
}
