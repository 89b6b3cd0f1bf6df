package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cseflow/logger"
)

func TestPipelineCounters(t *testing.T) {
	p := New()
	p.FileClassified("has_data")
	p.FileClassified("has_data")
	p.FileClassified("empty_file")
	p.RowsNormalized(10)
	p.RowsLoaded("cse_prices", 7)
	p.Download(true)
	p.Download(false)
	p.TickerSelected(true)
	p.ObserveStage("classify", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(p.filesClassified.WithLabelValues("has_data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.filesClassified.WithLabelValues("empty_file")))
	assert.Equal(t, 10.0, testutil.ToFloat64(p.rowsNormalized))
	assert.Equal(t, 7.0, testutil.ToFloat64(p.rowsLoaded.WithLabelValues("cse_prices")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.downloads.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.tickersSelected.WithLabelValues("true")))
}

func TestNilPipelineIsNoop(t *testing.T) {
	var p *Pipeline
	p.FileClassified("has_data")
	p.RowsNormalized(1)
	p.Download(true)
	p.ObserveStage("x", time.Now())
	assert.Nil(t, p.Registry())
	assert.NoError(t, p.Push(context.Background(), "http://unused", "", "cmd", "id"))
}

func TestPush(t *testing.T) {
	var hits int32
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New()
	p.RowsAssembled(3)
	require.NoError(t, p.Push(context.Background(), srv.URL, "cseflow", "assemble", "run-1"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.True(t, strings.Contains(path, "/job/cseflow"), path)
	assert.True(t, strings.Contains(path, "run_id/run-1"), path)
}

func TestReportStage(t *testing.T) {
	logger.ResetCounts()
	log := logger.GetLogger()
	ReportStage(log, "normalizer", StageStats{Inputs: 4, Outputs: 3, Rows: 100, Skipped: 1})
	warns, _ := logger.Counts("normalizer")
	assert.Equal(t, int64(1), warns)
}
