package upload

import (
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Response is a protocol response independent of the hosting HTTP layer.
//
// Body may be nil. A body implementing io.Closer is closed by WriteTo and
// Close, so hooks that replace a response must close the one they drop.
type Response struct {
	Status int
	Header http.Header
	Body   io.Reader
}

// NewResponse returns a response with the given status and no body.
func NewResponse(status int) *Response {
	return &Response{Status: status, Header: http.Header{}}
}

// NewTextResponse returns a text/plain response.
func NewTextResponse(status int, text string) *Response {
	resp := NewResponse(status)
	resp.Header.Set(HeaderContentType, "text/plain; charset=utf-8")
	resp.Header.Set(HeaderContentLength, strconv.Itoa(len(text)))
	resp.Body = strings.NewReader(text)
	return resp
}

// WriteTo writes the response to w and closes its body.
func (r *Response) WriteTo(w http.ResponseWriter) error {
	defer r.Close()

	header := w.Header()
	for key, values := range r.Header {
		if http.CanonicalHeaderKey(key) == HeaderExposeHeaders {
			header.Set(HeaderExposeHeaders, mergeHeaderList(header.Values(HeaderExposeHeaders), values))
			continue
		}
		for _, v := range values {
			header.Add(key, v)
		}
	}

	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if r.Body == nil {
		return nil
	}
	_, err := io.Copy(w, r.Body)
	return err
}

// mergeHeaderList joins comma separated header values into one value,
// dropping duplicates case-insensitively and keeping first-seen order.
func mergeHeaderList(lists ...[]string) string {
	seen := map[string]bool{}
	var out []string
	for _, values := range lists {
		for _, v := range values {
			for _, item := range strings.Split(v, ",") {
				item = strings.TrimSpace(item)
				key := strings.ToLower(item)
				if item == "" || seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, item)
			}
		}
	}
	return strings.Join(out, ", ")
}

// Close releases the body if it holds a resource.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	if closer, ok := r.Body.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// contentDisposition renders an inline disposition with a quoted filename.
func contentDisposition(name string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", "", "\n", "").Replace(name)
	return `inline; filename="` + escaped + `"`
}

// TextResponse answers with the transfer id as plain text.
func (s *Session) TextResponse(status int) *Response {
	return NewTextResponse(status, s.id)
}

// HeadResponse carries the content headers of the data file without a body.
func (s *Session) HeadResponse() (*Response, error) {
	size := s.declaredSize
	if dataSize, exists, err := s.store.DataSize(s.id); err == nil && exists {
		size = dataSize
	}
	if size < 0 {
		size = 0
	}

	resp := NewResponse(http.StatusOK)
	s.setContentHeaders(resp.Header, size)
	return resp, nil
}

// FileResponse streams the data file.
func (s *Session) FileResponse() (*Response, error) {
	f, err := s.OpenData()
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, StorageFault(err, "stat data file of %s", s.id)
	}

	resp := NewResponse(http.StatusOK)
	s.setContentHeaders(resp.Header, info.Size())
	resp.Body = f
	return resp, nil
}

// StreamResponse streams rc with the content headers of the session.
// The declared size is used as Content-Length when known.
func (s *Session) StreamResponse(rc io.ReadCloser) *Response {
	resp := NewResponse(http.StatusOK)
	s.setContentHeaders(resp.Header, s.declaredSize)
	resp.Body = rc
	return resp
}

// OffsetResponse reports the number of bytes staged so far.
func (s *Session) OffsetResponse(status int) (*Response, error) {
	offset, err := s.Offset()
	if err != nil {
		return nil, err
	}

	resp := NewResponse(status)
	resp.Header.Set(HeaderUploadOffset, strconv.FormatInt(offset, 10))
	resp.Header.Set(HeaderExposeHeaders, offsetExposeHeaders)
	return resp, nil
}

func (s *Session) setContentHeaders(h http.Header, size int64) {
	mimeType := s.mimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set(HeaderContentType, mimeType)
	if size >= 0 {
		h.Set(HeaderContentLength, strconv.FormatInt(size, 10))
	}
	h.Set(HeaderContentDisposition, contentDisposition(s.name))
	h.Set(HeaderTransferID, s.id)
	h.Set(HeaderExposeHeaders, contentExposeHeaders)
}
