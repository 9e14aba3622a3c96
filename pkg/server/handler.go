package server

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/rugalib/ruga-filepond/internal/logger"
	"github.com/rugalib/ruga-filepond/pkg/router"
	"github.com/rugalib/ruga-filepond/pkg/upload"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// serveUpload converts the request, runs it through the engine and writes
// the protocol response. Spool files the engine did not take over are
// removed once the response is written.
//
// A POST body is only read once the plugin has accepted its declared size,
// so an oversized upload is answered without staging a single byte.
func (s *Server) serveUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		if resp := s.engine.Precheck(r.Context(), router.NewRequest(r)); resp != nil {
			s.write(w, r, resp)
			return
		}
		if s.config.MaxBodySize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodySize)
		}
	}

	req, cleanup, err := router.ParseHTTP(r, s.engine.Store(), s.parseOptions())
	defer cleanup()

	var resp *upload.Response
	if err != nil {
		logger.Debug("Rejecting unparsable request [%s]: %v", middleware.GetReqID(r.Context()), err)
		status := upload.StatusCode(err)
		resp = upload.NewTextResponse(status, http.StatusText(status))
	} else {
		resp = s.engine.Handle(r.Context(), req)
	}

	s.write(w, r, resp)
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, resp *upload.Response) {
	if err := resp.WriteTo(w); err != nil {
		logger.Debug("Response write failed [%s]: %v", middleware.GetReqID(r.Context()), err)
	}
}
