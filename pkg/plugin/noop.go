package plugin

import (
	"context"
	"io"
	"strings"

	"github.com/rugalib/ruga-filepond/internal/logger"
	"github.com/rugalib/ruga-filepond/pkg/router"
	"github.com/rugalib/ruga-filepond/pkg/upload"
)

// NoOp content served for every foreign key.
const (
	NoOpFileName = "helloworld.txt"
	NoOpContent  = "HELLOWORLD"
)

// NoOp allows every transition and passes every response through.
//
// It is both the default plugin and the base other plugins embed.
type NoOp struct{}

var _ Hooks = NoOp{}

func (NoOp) PreProcess(ctx context.Context, req *router.Request) (context.Context, error) {
	return ctx, nil
}

func (NoOp) IsUploadSizeAllowed(ctx context.Context, contentLength, uploadLength int64) bool {
	logger.Debug("noop: allowing upload size (content-length=%d, upload-length=%d)", contentLength, uploadLength)
	return true
}

func (NoOp) IsFileTypeAllowed(ctx context.Context, s *upload.Session) bool {
	logger.Debug("noop: allowing type %q for %s", s.MimeType(), s.ID())
	return true
}

func (NoOp) IsUploadAllowed(ctx context.Context, s *upload.Session) bool {
	return true
}

func (NoOp) IsRevertAllowed(ctx context.Context, s *upload.Session) bool {
	return true
}

func (NoOp) IsRestoreAllowed(ctx context.Context, s *upload.Session) bool {
	return true
}

func (NoOp) IsLoadAllowed(ctx context.Context, s *upload.Session) bool {
	return true
}

func (NoOp) IsFetchURLAllowed(ctx context.Context, s *upload.Session, url string) bool {
	return true
}

func (NoOp) UploadComplete(ctx context.Context, s *upload.Session, resp *upload.Response) (*upload.Response, error) {
	logger.Debug("noop: upload %s complete (%s, %d bytes)", s.ID(), s.Name(), s.DeclaredSize())
	return resp, nil
}

func (NoOp) UploadStarted(ctx context.Context, s *upload.Session, resp *upload.Response) (*upload.Response, error) {
	logger.Debug("noop: upload %s started", s.ID())
	return resp, nil
}

func (NoOp) UploadChunk(ctx context.Context, s *upload.Session, resp *upload.Response) (*upload.Response, error) {
	return resp, nil
}

func (NoOp) RevertComplete(ctx context.Context, s *upload.Session, resp *upload.Response) (*upload.Response, error) {
	logger.Debug("noop: transfer %s reverted", s.ID())
	return resp, nil
}

func (NoOp) FetchComplete(ctx context.Context, s *upload.Session, resp *upload.Response) (*upload.Response, error) {
	return resp, nil
}

func (NoOp) RestoreComplete(ctx context.Context, s *upload.Session, resp *upload.Response) (*upload.Response, error) {
	return resp, nil
}

func (NoOp) LoadComplete(ctx context.Context, s *upload.Session, resp *upload.Response) (*upload.Response, error) {
	return resp, nil
}

// LoadFileInformation describes the same small text file for any key.
func (NoOp) LoadFileInformation(ctx context.Context, s *upload.Session) error {
	s.SetName(NoOpFileName)
	s.SetMimeType("text/plain")
	s.SetDeclaredSize(int64(len(NoOpContent)))
	return nil
}

func (NoOp) OpenForeign(ctx context.Context, s *upload.Session) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(NoOpContent)), nil
}
