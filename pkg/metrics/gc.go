package metrics

import "time"

// GCMetrics provides observability for staging area garbage collection.
type GCMetrics interface {
	// RecordRun records one collection pass.
	//
	// Parameters:
	//   - transfers: Number of staging directories removed
	//   - spools: Number of stale spool files removed
	//   - bytes: Bytes released
	//   - duration: Time taken by the pass
	//   - err: Error that aborted the pass, nil if it completed
	RecordRun(transfers, spools int, bytes int64, duration time.Duration, err error)
}

type noopGCMetrics struct{}

// NewNoopGCMetrics returns a GCMetrics that records nothing.
func NewNoopGCMetrics() GCMetrics {
	return noopGCMetrics{}
}

func (noopGCMetrics) RecordRun(int, int, int64, time.Duration, error) {}
