package prometheus

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newUploadMetrics(reg)

	m.RecordRequestStart("patch")
	m.RecordRequest("patch", http.StatusNoContent, 20*time.Millisecond)
	m.RecordRequest("patch", http.StatusConflict, time.Millisecond)
	m.RecordRequestEnd("patch")
	m.RecordBytesReceived("chunk", 4096)
	m.RecordBytesReceived("chunk", 0)
	m.RecordTransferComplete("upload")
	m.RecordRejection("SizeExceeded")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.requestsTotal.WithLabelValues("patch", "204")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requestsTotal.WithLabelValues("patch", "409")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.requestsInFlight.WithLabelValues("patch")))
	assert.Equal(t, float64(4096), testutil.ToFloat64(m.bytesReceived.WithLabelValues("chunk")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transfersCompleted.WithLabelValues("upload")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.rejections.WithLabelValues("SizeExceeded")))

	count, err := testutil.GatherAndCount(reg, "filepond_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGCMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newGCMetrics(reg)

	m.RecordRun(3, 1, 1024, time.Second, nil)
	m.RecordRun(0, 0, 0, time.Millisecond, errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.runsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.runsTotal.WithLabelValues("error")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.transfersRemoved))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.spoolsRemoved))
	assert.Equal(t, float64(1024), testutil.ToFloat64(m.bytesReleased))
}
