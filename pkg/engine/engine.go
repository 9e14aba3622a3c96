// Package engine runs the upload protocol.
//
// Every request goes through the same fixed sequence:
//
//  1. classify the request into an Operation
//  2. select the plugin by the first path segment and run PreProcess
//  3. resolve the sessions the operation works on (none -> 404)
//  4. admission: error flag, size (413), type (415), per-operation check
//  5. mutate the staging area
//  6. persist the session
//  7. run the plugin completion hook, which may replace the response
//
// Handle is the top-level boundary: every error and panic becomes a
// text/plain response whose status comes from the error.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/rugalib/ruga-filepond/internal/logger"
	"github.com/rugalib/ruga-filepond/pkg/fetch"
	"github.com/rugalib/ruga-filepond/pkg/metrics"
	"github.com/rugalib/ruga-filepond/pkg/plugin"
	"github.com/rugalib/ruga-filepond/pkg/router"
	"github.com/rugalib/ruga-filepond/pkg/transfer"
	"github.com/rugalib/ruga-filepond/pkg/upload"
)

// Config tunes the engine.
type Config struct {
	// MinFreeBytes is the free space the staging filesystem must keep after
	// accepting a transfer. 0 disables the check.
	MinFreeBytes uint64

	// MaxFetchSize caps the body of a remote fetch in bytes. 0 means
	// unlimited.
	MaxFetchSize int64
}

// Engine executes protocol operations against a transfer store.
//
// Thread Safety:
// An Engine is safe for concurrent use. Concurrent appends to one transfer
// are serialized by the transfer store.
type Engine struct {
	cfg      Config
	store    *transfer.Store
	resolver *router.Resolver
	plugins  *plugin.Registry
	fetcher  *fetch.Fetcher
	metrics  metrics.UploadMetrics

	// diskFree reports the free bytes of the filesystem holding path.
	diskFree func(ctx context.Context, path string) (uint64, error)
}

// New creates an engine.
//
// A nil fetcher uses fetch.DefaultTimeout; nil metrics record nothing.
func New(cfg Config, store *transfer.Store, plugins *plugin.Registry, fetcher *fetch.Fetcher, m metrics.UploadMetrics) *Engine {
	if fetcher == nil {
		fetcher = fetch.New(fetch.DefaultTimeout)
	}
	if m == nil {
		m = metrics.NewNoopUploadMetrics()
	}

	return &Engine{
		cfg:      cfg,
		store:    store,
		resolver: router.NewResolver(store),
		plugins:  plugins,
		fetcher:  fetcher,
		metrics:  m,
		diskFree: diskFree,
	}
}

// Store returns the transfer store the engine stages into.
func (e *Engine) Store() *transfer.Store {
	return e.store
}

// Handle classifies req and runs the resulting operation.
func (e *Engine) Handle(ctx context.Context, req *router.Request) *upload.Response {
	return e.Dispatch(ctx, router.Classify(req), req)
}

// Dispatch runs op for req. It never returns nil and never panics.
func (e *Engine) Dispatch(ctx context.Context, op router.Operation, req *router.Request) (resp *upload.Response) {
	name := op.String()
	start := time.Now()

	e.metrics.RecordRequestStart(name)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("%s %s: panic: %v\n%s", req.Method, req.Path, r, debug.Stack())
			resp = upload.NewTextResponse(http.StatusInternalServerError, "internal server error")
		}
		e.metrics.RecordRequestEnd(name)
		e.metrics.RecordRequest(name, resp.Status, time.Since(start))
	}()

	out, err := e.dispatch(ctx, op, req)
	if err != nil {
		return e.errorResponse(op, req, err)
	}
	if out == nil {
		out = upload.NewResponse(http.StatusOK)
	}
	return out
}

// Precheck runs the size gate of the addressed plugin against the declared
// body length and Upload-Length of req before its body is read. It returns
// nil when the request may proceed, and the rejection otherwise.
//
// Requests for an unknown plugin pass; Dispatch reports them.
func (e *Engine) Precheck(ctx context.Context, req *router.Request) *upload.Response {
	hooks, err := e.plugins.Lookup(req.Segment(0))
	if err != nil {
		return nil
	}

	ctx, err = hooks.PreProcess(ctx, req)
	if err == nil {
		err = e.checkSize(ctx, hooks, req.ContentLength, req.UploadLength())
	}
	if err != nil {
		resp := e.errorResponse(router.Upload, req, err)
		e.metrics.RecordRequest(router.Upload.String(), resp.Status, 0)
		return resp
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, op router.Operation, req *router.Request) (*upload.Response, error) {
	switch op {
	case router.Unknown:
		return nil, upload.NotImplemented("request not implemented")
	case router.RemoveLocal:
		return nil, upload.NotImplemented("remove not implemented")
	}

	hooks, err := e.plugins.Lookup(req.Segment(0))
	if err != nil {
		return nil, err
	}

	ctx, err = hooks.PreProcess(ctx, req)
	if err != nil {
		return nil, err
	}

	sessions, err := e.resolver.Resolve(ctx, op, req)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, upload.NotFound("no file uploads")
	}

	switch op {
	case router.Upload:
		return e.upload(ctx, hooks, req, sessions)
	case router.Patch:
		return e.patch(ctx, hooks, req, sessions[0])
	case router.Revert:
		return e.revert(ctx, hooks, sessions[0])
	case router.Restore:
		return e.restore(ctx, hooks, req, sessions[0])
	case router.FetchRemote:
		return e.fetch(ctx, hooks, req, sessions[0])
	case router.LoadLocal:
		return e.load(ctx, hooks, req, sessions[0])
	default:
		return nil, upload.NotImplemented("operation %s not implemented", op)
	}
}

func (e *Engine) errorResponse(op router.Operation, req *router.Request, err error) *upload.Response {
	status := upload.StatusCode(err)
	kind := upload.KindOf(err)

	switch kind {
	case upload.KindSizeExceeded, upload.KindTypeRejected, upload.KindPermissionDenied, upload.KindMalformedRequest:
		e.metrics.RecordRejection(kind.String())
	}

	if status >= http.StatusInternalServerError {
		logger.Error("%s %s (%s): %v", req.Method, req.Path, op, err)
	} else {
		logger.Debug("%s %s (%s): %d %v", req.Method, req.Path, op, status, err)
	}

	msg := err.Error()
	if kind == upload.KindInternal {
		msg = fmt.Sprintf("internal error: %v", err)
	}
	return upload.NewTextResponse(status, msg)
}
