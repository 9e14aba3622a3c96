package server

import (
	"net"
	"net/http"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rugalib/ruga-filepond/internal/logger"
	"github.com/rugalib/ruga-filepond/internal/ratelimiter"
	"github.com/rugalib/ruga-filepond/pkg/plugin"
	"github.com/rugalib/ruga-filepond/pkg/upload"
)

const (
	allowMethods = "GET, HEAD, POST, PATCH, DELETE, OPTIONS"
	allowHeaders = "Content-Type, " + upload.HeaderUploadOffset + ", " + upload.HeaderUploadLength + ", " +
		upload.HeaderUploadName
	exposeHeaders = upload.HeaderTransferID + ", " + upload.HeaderUploadOffset + ", " + plugin.HeaderDocumentID
)

// requestLogger logs one line per request after it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logger.Info("%s %s %d %dB %s [%s]",
			r.Method, r.URL.RequestURI(), status, ww.BytesWritten(),
			time.Since(start).Round(time.Microsecond), middleware.GetReqID(r.Context()))
	})
}

// cors answers preflight requests and decorates responses for allowed
// origins. An empty origin list turns the middleware into a pass-through.
func cors(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := mapset.NewSet()
	for _, o := range allowedOrigins {
		origins.Add(strings.TrimSpace(o))
	}
	wildcard := origins.Contains("*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origins.Cardinality() == 0 || origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			switch {
			case wildcard:
				h.Set("Access-Control-Allow-Origin", "*")
			case origins.Contains(origin):
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			default:
				next.ServeHTTP(w, r)
				return
			}
			h.Set(upload.HeaderExposeHeaders, exposeHeaders)

			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", allowMethods)
				if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
					h.Set("Access-Control-Allow-Headers", requested)
				} else {
					h.Set("Access-Control-Allow-Headers", allowHeaders)
				}
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit rejects clients that exceed their token bucket with 429.
// Clients are keyed by the address RealIP resolved.
func rateLimit(limiter *ratelimiter.KeyedLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !limiter.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientKey(r)) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
