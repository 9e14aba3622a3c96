// Package plugin defines the extension points of the upload protocol.
//
// Every protocol request is routed to exactly one plugin, chosen by the first
// path segment. The plugin gates each state transition (size, type, and the
// per-operation checks) and observes completed transitions, where it may
// replace the response. Plugins embed NoOp and override only the hooks they
// care about.
package plugin

import (
	"context"
	"io"

	"github.com/rugalib/ruga-filepond/pkg/router"
	"github.com/rugalib/ruga-filepond/pkg/upload"
)

// Hooks is the full set of extension points.
//
// Checks return false to reject a transition; the engine maps each rejection
// to its protocol status. Completion hooks receive the response the engine
// built and return the response to send, which may be a different one.
// A hook that drops the response it received must close it.
type Hooks interface {
	// PreProcess runs before session resolution. The returned context is
	// passed to every later hook of the request and may carry plugin state.
	PreProcess(ctx context.Context, req *router.Request) (context.Context, error)

	// IsUploadSizeAllowed gates the number of bytes a transfer will occupy.
	// contentLength is the request body length, uploadLength the declared
	// total size. Either is <= 0 when unknown.
	IsUploadSizeAllowed(ctx context.Context, contentLength, uploadLength int64) bool

	IsFileTypeAllowed(ctx context.Context, s *upload.Session) bool
	IsUploadAllowed(ctx context.Context, s *upload.Session) bool
	IsRevertAllowed(ctx context.Context, s *upload.Session) bool
	IsRestoreAllowed(ctx context.Context, s *upload.Session) bool
	IsLoadAllowed(ctx context.Context, s *upload.Session) bool
	IsFetchURLAllowed(ctx context.Context, s *upload.Session, url string) bool

	UploadComplete(ctx context.Context, s *upload.Session, resp *upload.Response) (*upload.Response, error)
	UploadStarted(ctx context.Context, s *upload.Session, resp *upload.Response) (*upload.Response, error)
	UploadChunk(ctx context.Context, s *upload.Session, resp *upload.Response) (*upload.Response, error)
	RevertComplete(ctx context.Context, s *upload.Session, resp *upload.Response) (*upload.Response, error)
	FetchComplete(ctx context.Context, s *upload.Session, resp *upload.Response) (*upload.Response, error)
	RestoreComplete(ctx context.Context, s *upload.Session, resp *upload.Response) (*upload.Response, error)
	LoadComplete(ctx context.Context, s *upload.Session, resp *upload.Response) (*upload.Response, error)

	// LoadFileInformation fills name, MIME type and size of a load session
	// from its foreign key.
	LoadFileInformation(ctx context.Context, s *upload.Session) error

	// OpenForeign opens the bytes behind the foreign key of a load session.
	OpenForeign(ctx context.Context, s *upload.Session) (io.ReadCloser, error)
}
