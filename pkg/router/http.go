package router

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/rugalib/ruga-filepond/pkg/transfer"
	"github.com/rugalib/ruga-filepond/pkg/upload"
)

// DefaultMaxMemory is the in-memory budget for multipart parsing. Larger
// parts are buffered on disk by net/http.
const DefaultMaxMemory = 32 << 20

// ParseOptions configures ParseHTTP.
type ParseOptions struct {
	// FieldName is the protocol form field (default "filepond")
	FieldName string

	// MaxMemory bounds multipart parsing in memory (default 32 MiB)
	MaxMemory int64
}

// ParseHTTP converts a net/http request into a Request.
//
// Multipart file parts under the protocol field are copied to spool files
// in the store's incoming directory. The returned cleanup removes spool files
// that no session took over and the multipart temp files; callers defer it
// as soon as ParseHTTP returns, even on error.
func ParseHTTP(r *http.Request, store *transfer.Store, opts ParseOptions) (*Request, func(), error) {
	if opts.FieldName == "" {
		opts.FieldName = DefaultFieldName
	}
	if opts.MaxMemory <= 0 {
		opts.MaxMemory = DefaultMaxMemory
	}

	req := NewRequest(r)

	var spooled []string
	cleanup := func() {
		for _, path := range spooled {
			_ = os.Remove(path)
		}
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}

	switch r.Method {
	case http.MethodPost:
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

		switch mediaType {
		case "multipart/form-data":
			if err := r.ParseMultipartForm(opts.MaxMemory); err != nil {
				return req, cleanup, bodyError("invalid multipart body", err)
			}
			req.Fields = r.MultipartForm.Value[opts.FieldName]

			for _, fh := range r.MultipartForm.File[opts.FieldName] {
				part, err := spoolPart(store, fh)
				if part.SpoolPath != "" {
					spooled = append(spooled, part.SpoolPath)
				}
				if err != nil {
					return req, cleanup, err
				}
				req.Files = append(req.Files, part)
			}

		case "application/x-www-form-urlencoded":
			if err := r.ParseForm(); err != nil {
				return req, cleanup, bodyError("invalid form body", err)
			}
			req.Fields = r.PostForm[opts.FieldName]
		}

	case http.MethodDelete:
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxRevertBody))
		if err != nil {
			return req, cleanup, upload.MalformedRequest("failed to read request body: %v", err)
		}
		req.Body = bytes.NewReader(raw)

	case http.MethodPatch:
		if r.Body != nil {
			req.Body = r.Body
		}
	}

	return req, cleanup, nil
}

// NewRequest returns the body-less part of a Request: method, path, query,
// headers and the declared content length.
func NewRequest(r *http.Request) *Request {
	return &Request{
		Method:        r.Method,
		Path:          r.URL.Path,
		Query:         r.URL.Query(),
		Header:        r.Header,
		Body:          http.NoBody,
		ContentLength: r.ContentLength,
	}
}

// bodyError reports a body cut off by http.MaxBytesReader as SizeExceeded
// and any other read failure as MalformedRequest.
func bodyError(msg string, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return upload.SizeExceeded("request body exceeds %d bytes", tooLarge.Limit)
	}
	return upload.MalformedRequest("%s: %v", msg, err)
}

// spoolPart copies one multipart file into the incoming directory.
//
// A part that cannot be read completely is still returned, flagged with a
// 400 error code, so the admission check rejects it like any other
// transport error.
func spoolPart(store *transfer.Store, fh *multipart.FileHeader) (upload.FilePart, error) {
	part := upload.FilePart{
		Name:     fh.Filename,
		MimeType: fh.Header.Get("Content-Type"),
		Size:     fh.Size,
	}

	dst, err := store.Spool()
	if err != nil {
		return part, upload.StorageFault(err, "spool upload")
	}
	part.SpoolPath = dst.Name()
	defer dst.Close()

	src, err := fh.Open()
	if err != nil {
		part.ErrorCode = http.StatusBadRequest
		return part, nil
	}
	defer src.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return part, upload.StorageFault(err, "spool upload")
	}
	if n != fh.Size {
		part.ErrorCode = http.StatusBadRequest
	}
	return part, nil
}
