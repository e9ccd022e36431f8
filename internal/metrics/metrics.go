// Package metrics exposes Prometheus instruments for scans and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a registry so several servers or tests never collide on
// global registration. A nil *Recorder is valid and records nothing.
type Recorder struct {
	reg *prometheus.Registry

	transactions    prometheus.Counter
	findings        *prometheus.CounterVec
	skipped         *prometheus.CounterVec
	scanDuration    prometheus.Histogram
	rulesVersion    prometheus.Gauge
	rulesLoaded     prometheus.Gauge
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers the emcheck instruments on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		transactions: f.NewCounter(prometheus.CounterOpts{
			Name: "emcheck_transactions_scanned_total",
			Help: "Total HTTP transactions passed to the matcher.",
		}),
		findings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "emcheck_findings_total",
			Help: "Total findings reported by severity.",
		}, []string{"severity"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "emcheck_transactions_skipped_total",
			Help: "Transactions not scanned, by reason.",
		}, []string{"reason"}),
		scanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "emcheck_scan_duration_seconds",
			Help:    "Time spent matching one transaction.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		rulesVersion: f.NewGauge(prometheus.GaugeOpts{
			Name: "emcheck_rules_version",
			Help: "Version of the published rule snapshot.",
		}),
		rulesLoaded: f.NewGauge(prometheus.GaugeOpts{
			Name: "emcheck_rules_loaded",
			Help: "Number of usable rules in the published snapshot.",
		}),
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "emcheck_http_requests_total",
			Help: "Total HTTP requests by method, path, and response status.",
		}, []string{"method", "path", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "emcheck_http_request_duration_seconds",
			Help:    "Request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// ObserveScan records one matched transaction and its duration.
func (r *Recorder) ObserveScan(d time.Duration) {
	if r == nil {
		return
	}
	r.transactions.Inc()
	r.scanDuration.Observe(d.Seconds())
}

// RecordFinding counts a reported finding under its severity label.
func (r *Recorder) RecordFinding(severity string) {
	if r == nil {
		return
	}
	if severity == "" {
		severity = "none"
	}
	r.findings.WithLabelValues(severity).Inc()
}

// RecordSkip counts a transaction dropped before matching.
func (r *Recorder) RecordSkip(reason string) {
	if r == nil {
		return
	}
	r.skipped.WithLabelValues(reason).Inc()
}

// SetRules publishes the active snapshot version and size.
func (r *Recorder) SetRules(version uint64, n int) {
	if r == nil {
		return
	}
	r.rulesVersion.Set(float64(version))
	r.rulesLoaded.Set(float64(n))
}

// Middleware returns a Gin middleware that records per-request metrics.
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if r == nil {
			return
		}
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		r.requestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		r.requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns a Gin handler that serves the recorder's registry.
func (r *Recorder) Handler() gin.HandlerFunc {
	var reg prometheus.Gatherer = prometheus.NewRegistry()
	if r != nil {
		reg = r.reg
	}
	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
