package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.GET("/metrics", r.Handler())
	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestRecorder_Counts(t *testing.T) {
	r := New()
	r.ObserveScan(3 * time.Millisecond)
	r.ObserveScan(time.Millisecond)
	r.RecordFinding("High")
	r.RecordFinding("")
	r.RecordSkip("size")
	r.SetRules(4, 33)

	body := scrape(t, r)
	assert.Contains(t, body, "emcheck_transactions_scanned_total 2")
	assert.Contains(t, body, `emcheck_findings_total{severity="High"} 1`)
	assert.Contains(t, body, `emcheck_findings_total{severity="none"} 1`)
	assert.Contains(t, body, `emcheck_transactions_skipped_total{reason="size"} 1`)
	assert.Contains(t, body, "emcheck_rules_version 4")
	assert.Contains(t, body, "emcheck_rules_loaded 33")
	assert.Contains(t, body, "emcheck_scan_duration_seconds_count 2")
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveScan(time.Second)
	r.RecordFinding("Low")
	r.RecordSkip("binary")
	r.SetRules(1, 1)
	assert.Nil(t, r.Registry())
}

func TestRecorder_GinHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := New()
	e := gin.New()
	e.Use(r.Middleware())
	e.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	e.GET("/metrics", r.Handler())

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `emcheck_http_requests_total{method="GET",path="/ping",status="200"} 1`)
}
