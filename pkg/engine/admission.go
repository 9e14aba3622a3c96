package engine

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/rugalib/ruga-filepond/pkg/plugin"
	"github.com/rugalib/ruga-filepond/pkg/upload"
)

func diskFree(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// checkError rejects a session that carries a transport error.
func checkError(s *upload.Session) error {
	if !s.HasError() {
		return nil
	}
	if s.Source() == upload.SourceFetch {
		return upload.UpstreamFetchFailed(s.ErrorCode(), nil)
	}
	return &upload.Error{
		Kind:   upload.KindMalformedRequest,
		Status: s.ErrorCode(),
		Msg:    fmt.Sprintf("file upload failed with code %d", s.ErrorCode()),
	}
}

// checkSize asks the plugin about the transfer size and makes sure the
// staging filesystem can take it.
func (e *Engine) checkSize(ctx context.Context, hooks plugin.Hooks, contentLength, uploadLength int64) error {
	if !hooks.IsUploadSizeAllowed(ctx, contentLength, uploadLength) {
		return upload.SizeExceeded("upload size not allowed (content-length %d, upload-length %d)", contentLength, uploadLength)
	}

	if e.cfg.MinFreeBytes == 0 {
		return nil
	}

	required := e.cfg.MinFreeBytes
	if uploadLength > 0 {
		required += uint64(uploadLength)
	} else if contentLength > 0 {
		required += uint64(contentLength)
	}

	free, err := e.diskFree(ctx, e.store.BasePath())
	if err != nil {
		return upload.StorageFault(err, "failed to read staging free space")
	}
	if free < required {
		return upload.InsufficientStorage(free, required)
	}
	return nil
}

func checkType(ctx context.Context, hooks plugin.Hooks, s *upload.Session) error {
	if !hooks.IsFileTypeAllowed(ctx, s) {
		return upload.TypeRejected(s.MimeType())
	}
	return nil
}

// declaredOr returns the declared size of s, or fallback when it is unknown.
func declaredOr(s *upload.Session, fallback int64) int64 {
	if n := s.DeclaredSize(); n > 0 {
		return n
	}
	return fallback
}

// chunkEnd returns the size a transfer reaches once a chunk of
// contentLength bytes at offset is appended, or the declared size when that
// is larger. The result is <= 0 when neither is known.
func chunkEnd(s *upload.Session, offset, contentLength int64) int64 {
	end := s.DeclaredSize()
	if contentLength >= 0 && offset+contentLength > end {
		end = offset + contentLength
	}
	return end
}
