package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rugalib/ruga-filepond/pkg/engine"
	"github.com/rugalib/ruga-filepond/pkg/plugin"
	"github.com/rugalib/ruga-filepond/pkg/transfer"
	"github.com/rugalib/ruga-filepond/pkg/upload"
)

// limitedPlugin caps the size of every transfer.
type limitedPlugin struct {
	plugin.NoOp
	maxSize int64
}

func (p limitedPlugin) IsUploadSizeAllowed(ctx context.Context, contentLength, uploadLength int64) bool {
	return contentLength <= p.maxSize && uploadLength <= p.maxSize
}

func newTestServer(t *testing.T, cfg Config) (*Server, *transfer.Store) {
	t.Helper()

	store, err := transfer.NewStore(context.Background(), t.TempDir())
	require.NoError(t, err)

	reg := plugin.NewRegistry("noop")
	require.NoError(t, reg.Register("noop", plugin.NoOp{}))
	require.NoError(t, reg.Register("limited", limitedPlugin{maxSize: 1 << 10}))

	return New(cfg, engine.New(engine.Config{}, store, reg, nil, nil)), store
}

// countingReader records how many bytes the server consumed.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func assertNothingStaged(t *testing.T, store *transfer.Store) {
	t.Helper()

	incoming, err := os.ReadDir(store.IncomingDir())
	require.NoError(t, err)
	assert.Empty(t, incoming)

	transfers, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func multipartUpload(t *testing.T, field, name string, data []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestUploadAndRestoreOverHTTP(t *testing.T) {
	s, store := newTestServer(t, Config{})
	data := []byte("file contents sent by the widget")

	rec := serve(s, multipartUpload(t, "filepond", "notes.txt", data))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := rec.Body.String()
	require.True(t, transfer.ValidID(id))

	// the spool file was taken over by the transfer
	incoming, err := os.ReadDir(store.IncomingDir())
	require.NoError(t, err)
	assert.Empty(t, incoming)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/?restore="+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(data), rec.Body.String())
	assert.Contains(t, rec.Header().Get(upload.HeaderContentDisposition), "notes.txt")

	req := httptest.NewRequest(http.MethodDelete, "/", bytes.NewBufferString(id))
	rec = serve(s, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/?restore="+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCustomFieldName(t *testing.T) {
	s, _ := newTestServer(t, Config{FieldName: "upload"})

	rec := serve(s, multipartUpload(t, "upload", "a.txt", []byte("abc")))
	assert.Equal(t, http.StatusCreated, rec.Code)

	// the default field is no longer recognised
	rec = serve(s, multipartUpload(t, "filepond", "a.txt", []byte("abc")))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestUnknownRequestIsNotImplemented(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodHead} {
		rec := serve(s, httptest.NewRequest(method, "/", nil))
		assert.Equal(t, http.StatusNotImplemented, rec.Code, method)
	}
}

func TestMalformedMultipartIsBadRequest(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("not a multipart body"))
	req.Header.Set("Content-Type", "multipart/form-data")

	rec := serve(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOversizedUploadRejectedBeforeReading(t *testing.T) {
	s, store := newTestServer(t, Config{})

	src := multipartUpload(t, "filepond", "big.bin", make([]byte, 8<<20))
	body := &countingReader{r: src.Body}
	req := httptest.NewRequest(http.MethodPost, "/limited", body)
	req.Header = src.Header
	req.ContentLength = src.ContentLength

	rec := serve(s, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, body.n, "body must not be read")
	assertNothingStaged(t, store)
}

func TestMaxBodySize(t *testing.T) {
	s, store := newTestServer(t, Config{MaxBodySize: 1 << 10})

	src := multipartUpload(t, "filepond", "big.bin", make([]byte, 64<<10))
	// hide the length so only the body cap can stop it
	req := httptest.NewRequest(http.MethodPost, "/", io.MultiReader(src.Body))
	req.Header = src.Header
	require.Equal(t, int64(-1), req.ContentLength)

	rec := serve(s, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assertNothingStaged(t, store)

	rec = serve(s, multipartUpload(t, "filepond", "small.txt", []byte("fits")))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestUnknownPluginIsNotFound(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	req := multipartUpload(t, "filepond", "a.txt", []byte("abc"))
	req.URL.Path = "/nosuchplugin"

	rec := serve(s, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORS(t *testing.T) {
	t.Run("Preflight", func(t *testing.T) {
		s, _ := newTestServer(t, Config{AllowedOrigins: []string{"https://app.example"}})

		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "https://app.example")
		req.Header.Set("Access-Control-Request-Headers", "Upload-Offset")

		rec := serve(s, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Upload-Offset", rec.Header().Get("Access-Control-Allow-Headers"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
		assert.Contains(t, rec.Header().Get(upload.HeaderExposeHeaders), upload.HeaderTransferID)
	})

	t.Run("Wildcard", func(t *testing.T) {
		s, _ := newTestServer(t, Config{AllowedOrigins: []string{"*"}})

		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", "https://anything.example")

		rec := serve(s, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("DisallowedOrigin", func(t *testing.T) {
		s, _ := newTestServer(t, Config{AllowedOrigins: []string{"https://app.example"}})

		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", "https://evil.example")

		rec := serve(s, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Disabled", func(t *testing.T) {
		s, _ := newTestServer(t, Config{})

		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "https://app.example")

		rec := serve(s, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestExposeHeadersSentOnce(t *testing.T) {
	s, _ := newTestServer(t, Config{AllowedOrigins: []string{"*"}})

	rec := serve(s, multipartUpload(t, "filepond", "notes.txt", []byte("exposed")))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := rec.Body.String()

	req := httptest.NewRequest(http.MethodGet, "/?restore="+id, nil)
	req.Header.Set("Origin", "https://app.example")
	rec = serve(s, req)
	require.Equal(t, http.StatusOK, rec.Code)

	values := rec.Header().Values(upload.HeaderExposeHeaders)
	require.Len(t, values, 1)
	assert.Contains(t, values[0], upload.HeaderContentDisposition)
	assert.Contains(t, values[0], upload.HeaderUploadOffset)
	assert.Equal(t, 1, strings.Count(values[0], upload.HeaderTransferID))
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, Config{RequestsPerSecond: 1, Burst: 2})

	get := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = remote
		return serve(s, req).Code
	}

	assert.Equal(t, http.StatusOK, get("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, get("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, get("10.0.0.1:1002"))

	// other clients have their own bucket
	assert.Equal(t, http.StatusOK, get("10.0.0.2:1000"))
}

func TestRateLimitUsesForwardedAddress(t *testing.T) {
	s, _ := newTestServer(t, Config{RequestsPerSecond: 1, Burst: 1})

	get := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Forwarded-For", forwarded)
		return serve(s, req).Code
	}

	assert.Equal(t, http.StatusOK, get("192.0.2.10"))
	assert.Equal(t, http.StatusTooManyRequests, get("192.0.2.10"))
	assert.Equal(t, http.StatusOK, get("192.0.2.11"))
}

func TestStartStop(t *testing.T) {
	s, _ := newTestServer(t, Config{ShutdownTimeout: 2 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, 2*time.Second, 10*time.Millisecond)

	_, port, err := net.SplitHostPort(s.Addr().String())
	require.NoError(t, err)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%s/healthz", port))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}

	// a second Stop is a no-op
	assert.NoError(t, s.Stop(context.Background()))
}

func TestMetricsRouteBypassesRateLimit(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("filepond_requests_total 1\n"))
	})
	s, _ := newTestServer(t, Config{RequestsPerSecond: 1, Burst: 1, Metrics: metricsHandler})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		req.RemoteAddr = "10.0.0.9:1000"
		rec := serve(s, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "filepond_requests_total")
	}
}
