package metrics

import "time"

// UploadMetrics provides observability for protocol requests.
//
// This interface is optional - if not provided to the engine, a no-op
// implementation is used.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewUploadMetrics()
//	eng := engine.New(cfg, store, plugins, m)
//
//	// Without metrics (no-op)
//	eng := engine.New(cfg, store, plugins, nil)
type UploadMetrics interface {
	// RecordRequest records a completed protocol request.
	//
	// Parameters:
	//   - operation: Operation name (e.g., "upload", "patch", "fetch")
	//   - status: HTTP status answered to the client
	//   - duration: Time taken to process the request
	RecordRequest(operation string, status int, duration time.Duration)

	// RecordRequestStart increments the in-flight request gauge.
	RecordRequestStart(operation string)

	// RecordRequestEnd decrements the in-flight request gauge.
	RecordRequestEnd(operation string)

	// RecordBytesReceived records staged bytes.
	//
	// Parameters:
	//   - source: "chunk", "upload" or "fetch"
	//   - bytes: Number of bytes written to the staging area
	RecordBytesReceived(source string, bytes int64)

	// RecordTransferComplete counts a transfer that reached the complete state.
	RecordTransferComplete(source string)

	// RecordRejection counts a request refused by an admission check.
	//
	// Parameters:
	//   - reason: Error kind of the rejection (e.g., "SizeExceeded")
	RecordRejection(reason string)
}

type noopUploadMetrics struct{}

// NewNoopUploadMetrics returns an UploadMetrics that records nothing.
func NewNoopUploadMetrics() UploadMetrics {
	return noopUploadMetrics{}
}

func (noopUploadMetrics) RecordRequest(string, int, time.Duration) {}
func (noopUploadMetrics) RecordRequestStart(string)                {}
func (noopUploadMetrics) RecordRequestEnd(string)                  {}
func (noopUploadMetrics) RecordBytesReceived(string, int64)        {}
func (noopUploadMetrics) RecordTransferComplete(string)            {}
func (noopUploadMetrics) RecordRejection(string)                   {}
