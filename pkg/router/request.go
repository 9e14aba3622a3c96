package router

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rugalib/ruga-filepond/pkg/upload"
)

// Query parameter names of the protocol.
const (
	QueryFetch   = "fetch"
	QueryRestore = "restore"
	QueryLoad    = "load"
	QueryPatch   = "patch"
)

// DefaultFieldName is the form field the client widget posts under.
const DefaultFieldName = "filepond"

// Request is the parsed input of one protocol request.
//
// Everything the classifier and the engine need is carried explicitly;
// nothing is read from the hosting layer once a Request has been built.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header

	// Files are the multipart file parts posted under the protocol field,
	// already spooled to disk.
	Files []upload.FilePart

	// Fields are the raw values of the protocol field (JSON metadata).
	Fields []string

	// Body is the raw request body for DELETE (transfer id) and PATCH
	// (chunk bytes). It is never nil.
	Body io.Reader

	// ContentLength is the declared body length, or -1 when unknown.
	ContentLength int64
}

// HasQuery reports whether the query parameter is present, even if empty.
func (r *Request) HasQuery(key string) bool {
	_, ok := r.Query[key]
	return ok
}

// HasPayload reports whether a file part or a protocol field was posted.
func (r *Request) HasPayload() bool {
	return len(r.Files) > 0 || len(r.Fields) > 0
}

// Segments returns the non-empty path segments.
func (r *Request) Segments() []string {
	var segments []string
	for _, s := range strings.Split(r.Path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// Segment returns the n-th path segment (0-based), or "".
func (r *Request) Segment(n int) string {
	segments := r.Segments()
	if n < 0 || n >= len(segments) {
		return ""
	}
	return segments[n]
}

// HeaderInt parses an integer header. ok is false when the header is absent
// or not a valid integer.
func (r *Request) HeaderInt(name string) (int64, bool) {
	raw := strings.TrimSpace(r.Header.Get(name))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// UploadLength returns the Upload-Length header, or 0 when absent or invalid.
func (r *Request) UploadLength() int64 {
	n, _ := r.HeaderInt(upload.HeaderUploadLength)
	return n
}
