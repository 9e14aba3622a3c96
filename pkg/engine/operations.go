package engine

import (
	"context"
	"net/http"

	"github.com/rugalib/ruga-filepond/internal/logger"
	"github.com/rugalib/ruga-filepond/pkg/plugin"
	"github.com/rugalib/ruga-filepond/pkg/router"
	"github.com/rugalib/ruga-filepond/pkg/transfer"
	"github.com/rugalib/ruga-filepond/pkg/upload"
)

// Sources reported to metrics.
const (
	sourceChunk  = "chunk"
	sourceUpload = "upload"
	sourceFetch  = "fetch"
)

// upload handles atomic file parts and chunk announcements.
//
// Every session passes admission before anything is staged, so a rejected
// file in a multi-file post leaves no staging directory behind. The response
// carries the transfer id of the first session.
func (e *Engine) upload(ctx context.Context, hooks plugin.Hooks, req *router.Request, sessions []*upload.Session) (*upload.Response, error) {
	// ========================================================================
	// Step 1: Admission for every session
	// ========================================================================

	uploadLength := req.UploadLength()
	for _, s := range sessions {
		if err := e.admitUpload(ctx, hooks, s, req.ContentLength, declaredOr(s, uploadLength)); err != nil {
			discardAll(sessions)
			return nil, err
		}
	}

	// ========================================================================
	// Step 2: Stage, persist and notify
	// ========================================================================

	var first *upload.Response
	for i, s := range sessions {
		resp, err := e.stageUpload(ctx, hooks, s)
		if err != nil {
			_ = first.Close()
			discardAll(sessions[i:])
			return nil, err
		}
		if first == nil {
			first = resp
		} else {
			_ = resp.Close()
		}
	}
	return first, nil
}

func (e *Engine) admitUpload(ctx context.Context, hooks plugin.Hooks, s *upload.Session, contentLength, uploadLength int64) error {
	if err := checkError(s); err != nil {
		return err
	}
	if err := e.checkSize(ctx, hooks, contentLength, uploadLength); err != nil {
		return err
	}
	if err := checkType(ctx, hooks, s); err != nil {
		return err
	}
	if !hooks.IsUploadAllowed(ctx, s) {
		return upload.MalformedRequest("upload not allowed")
	}
	return nil
}

func (e *Engine) stageUpload(ctx context.Context, hooks plugin.Hooks, s *upload.Session) (*upload.Response, error) {
	if !s.IsAtomic() {
		if err := s.Persist(ctx); err != nil {
			return nil, err
		}
		logger.Debug("transfer %s announced (%d bytes)", s.ID(), s.DeclaredSize())
		return hooks.UploadStarted(ctx, s, s.TextResponse(http.StatusCreated))
	}

	if err := s.Finalize(ctx); err != nil {
		s.Discard()
		e.revertQuietly(ctx, s)
		return nil, err
	}
	// The type may only be known now that the content has been sniffed.
	if err := checkType(ctx, hooks, s); err != nil {
		e.revertQuietly(ctx, s)
		return nil, err
	}
	if err := s.Persist(ctx); err != nil {
		e.revertQuietly(ctx, s)
		return nil, err
	}

	e.metrics.RecordBytesReceived(sourceUpload, s.DeclaredSize())
	e.metrics.RecordTransferComplete(sourceUpload)
	logger.Info("transfer %s received %s (%s, %d bytes)", s.ID(), s.Name(), s.MimeType(), s.DeclaredSize())

	return hooks.UploadComplete(ctx, s, s.TextResponse(http.StatusCreated))
}

// patch appends one chunk (PATCH) or reports the current offset (HEAD).
func (e *Engine) patch(ctx context.Context, hooks plugin.Hooks, req *router.Request, s *upload.Session) (*upload.Response, error) {
	// ========================================================================
	// Step 1: Apply chunk headers
	// ========================================================================

	s.SetName(req.Header.Get(upload.HeaderUploadName))
	if n, ok := req.HeaderInt(upload.HeaderUploadLength); ok {
		s.SetDeclaredSize(n)
	}

	var offset int64
	if req.Method != http.MethodHead {
		n, ok := req.HeaderInt(upload.HeaderUploadOffset)
		if !ok || n < 0 {
			return nil, upload.MalformedRequest("missing or invalid %s header", upload.HeaderUploadOffset)
		}
		offset = n
	}

	if err := checkError(s); err != nil {
		return nil, err
	}
	if err := e.checkSize(ctx, hooks, req.ContentLength, chunkEnd(s, offset, req.ContentLength)); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: HEAD reports the offset the client resumes from
	// ========================================================================

	if req.Method == http.MethodHead {
		if err := s.Persist(ctx); err != nil {
			return nil, err
		}
		return s.OffsetResponse(http.StatusOK)
	}

	// ========================================================================
	// Step 3: Append
	// ========================================================================

	n, err := s.AppendChunk(ctx, req.Body, offset)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordBytesReceived(sourceChunk, n-offset)

	// A chunk of unknown length can only be measured once it is staged.
	if !hooks.IsUploadSizeAllowed(ctx, 0, n) {
		e.revertQuietly(ctx, s)
		return nil, upload.SizeExceeded("transfer of %d bytes not allowed", n)
	}

	if err := checkType(ctx, hooks, s); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 4: Finalize or acknowledge
	// ========================================================================

	if !s.IsComplete() {
		if err := s.Persist(ctx); err != nil {
			return nil, err
		}
		resp, err := s.OffsetResponse(http.StatusNoContent)
		if err != nil {
			return nil, err
		}
		return hooks.UploadChunk(ctx, s, resp)
	}

	if err := s.Finalize(ctx); err != nil {
		return nil, err
	}
	if err := checkType(ctx, hooks, s); err != nil {
		e.revertQuietly(ctx, s)
		return nil, err
	}
	if err := s.Persist(ctx); err != nil {
		return nil, err
	}

	e.metrics.RecordTransferComplete(sourceUpload)
	logger.Info("transfer %s assembled %s (%s, %d bytes)", s.ID(), s.Name(), s.MimeType(), s.DeclaredSize())

	resp, err := s.OffsetResponse(http.StatusNoContent)
	if err != nil {
		return nil, err
	}
	return hooks.UploadComplete(ctx, s, resp)
}

func (e *Engine) revert(ctx context.Context, hooks plugin.Hooks, s *upload.Session) (*upload.Response, error) {
	if !hooks.IsRevertAllowed(ctx, s) {
		return nil, upload.PermissionDenied("revert")
	}
	if err := s.Revert(ctx); err != nil {
		return nil, err
	}

	logger.Debug("transfer %s reverted", s.ID())
	return hooks.RevertComplete(ctx, s, upload.NewResponse(http.StatusNoContent))
}

func (e *Engine) restore(ctx context.Context, hooks plugin.Hooks, req *router.Request, s *upload.Session) (*upload.Response, error) {
	if !hooks.IsRestoreAllowed(ctx, s) {
		return nil, upload.PermissionDenied("restore")
	}
	if !s.HasData() {
		return nil, upload.TransferNotFound(s.ID(), transfer.ErrNoData)
	}

	resp, err := e.contentResponse(req, s)
	if err != nil {
		return nil, err
	}
	return e.complete(resp, func(resp *upload.Response) (*upload.Response, error) {
		return hooks.RestoreComplete(ctx, s, resp)
	})
}

// fetch stages a remote file.
//
// The URL is checked before any remote request, and the staging directory
// is only created once the remote server has answered the GET with 2xx.
func (e *Engine) fetch(ctx context.Context, hooks plugin.Hooks, req *router.Request, s *upload.Session) (*upload.Response, error) {
	// ========================================================================
	// Step 1: URL check and probe
	// ========================================================================

	if !hooks.IsFetchURLAllowed(ctx, s, s.FetchURL()) {
		return nil, upload.PermissionDenied("fetch of " + s.FetchURL())
	}

	info, err := e.fetcher.Probe(ctx, s.FetchURL())
	if err != nil {
		return nil, err
	}
	if info.Status != 0 && !info.OK() {
		s.SetError(info.Status)
	} else {
		s.SetName(info.Name)
		s.SetMimeType(info.MimeType)
		s.SetDeclaredSize(info.Size)
	}

	// ========================================================================
	// Step 2: Admission
	// ========================================================================

	if err := checkError(s); err != nil {
		return nil, err
	}
	if err := e.checkSize(ctx, hooks, 0, s.DeclaredSize()); err != nil {
		return nil, err
	}
	if err := checkType(ctx, hooks, s); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 3: Download into the staging area
	// ========================================================================

	body, getInfo, err := e.fetcher.Open(ctx, s.FetchURL())
	if err != nil {
		return nil, err
	}
	defer body.Close()

	s.SetName(getInfo.Name)
	if s.MimeType() == "" {
		s.SetMimeType(getInfo.MimeType)
	}

	n, err := s.StoreData(ctx, body, e.fetchLimit(s))
	if err != nil {
		e.revertQuietly(ctx, s)
		return nil, err
	}
	e.metrics.RecordBytesReceived(sourceFetch, n)

	if !hooks.IsUploadSizeAllowed(ctx, 0, n) {
		e.revertQuietly(ctx, s)
		return nil, upload.SizeExceeded("fetched file of %d bytes not allowed", n)
	}
	if err := checkType(ctx, hooks, s); err != nil {
		e.revertQuietly(ctx, s)
		return nil, err
	}
	if err := s.Persist(ctx); err != nil {
		e.revertQuietly(ctx, s)
		return nil, err
	}

	e.metrics.RecordTransferComplete(sourceFetch)
	logger.Info("transfer %s fetched %s (%s, %d bytes)", s.ID(), s.FetchURL(), s.MimeType(), n)

	// ========================================================================
	// Step 4: Respond
	// ========================================================================

	resp, err := e.contentResponse(req, s)
	if err != nil {
		return nil, err
	}
	return e.complete(resp, func(resp *upload.Response) (*upload.Response, error) {
		return hooks.FetchComplete(ctx, s, resp)
	})
}

// fetchLimit caps a download at the announced size and the configured
// maximum, whichever is smaller. -1 means no cap.
func (e *Engine) fetchLimit(s *upload.Session) int64 {
	limit := int64(-1)
	if n := s.DeclaredSize(); n > 0 {
		limit = n
	}
	if maxSize := e.cfg.MaxFetchSize; maxSize > 0 && (limit < 0 || maxSize < limit) {
		limit = maxSize
	}
	return limit
}

func (e *Engine) load(ctx context.Context, hooks plugin.Hooks, req *router.Request, s *upload.Session) (*upload.Response, error) {
	if err := hooks.LoadFileInformation(ctx, s); err != nil {
		return nil, err
	}
	if !hooks.IsLoadAllowed(ctx, s) {
		return nil, upload.PermissionDenied("load")
	}
	if err := s.Persist(ctx); err != nil {
		return nil, err
	}

	var resp *upload.Response
	if req.Method == http.MethodHead {
		head, err := s.HeadResponse()
		if err != nil {
			return nil, err
		}
		resp = head
	} else {
		rc, err := hooks.OpenForeign(ctx, s)
		if err != nil {
			return nil, err
		}
		resp = s.StreamResponse(rc)
	}

	return e.complete(resp, func(resp *upload.Response) (*upload.Response, error) {
		return hooks.LoadComplete(ctx, s, resp)
	})
}

// contentResponse answers HEAD with the headers of the data file and any
// other method with its content.
func (e *Engine) contentResponse(req *router.Request, s *upload.Session) (*upload.Response, error) {
	if req.Method == http.MethodHead {
		return s.HeadResponse()
	}
	return s.FileResponse()
}

// complete runs a completion hook and releases the response if the hook
// fails.
func (e *Engine) complete(resp *upload.Response, hook func(*upload.Response) (*upload.Response, error)) (*upload.Response, error) {
	out, err := hook(resp)
	if err != nil {
		_ = resp.Close()
		return nil, err
	}
	return out, nil
}

func (e *Engine) revertQuietly(ctx context.Context, s *upload.Session) {
	if !e.store.Exists(s.ID()) {
		return
	}
	if err := s.Revert(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("failed to remove staging of %s: %v", s.ID(), err)
	}
}

func discardAll(sessions []*upload.Session) {
	for _, s := range sessions {
		s.Discard()
	}
}
