// Package server exposes the scanner over HTTP so that a proxy or crawler can
// submit captured responses and receive findings.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redactyl/emcheck/internal/config"
	"github.com/redactyl/emcheck/internal/engine"
	"github.com/redactyl/emcheck/internal/finding"
	"github.com/redactyl/emcheck/internal/metrics"
	"github.com/redactyl/emcheck/internal/report"
	"github.com/redactyl/emcheck/internal/rules"
	"github.com/redactyl/emcheck/internal/types"
	"go.uber.org/zap"
)

// maxBatch bounds the number of transactions accepted by one batch request.
const maxBatch = 1000

// Options configure a Server.
type Options struct {
	Scanner *engine.Scanner
	Session config.Session
	Metrics *metrics.Recorder
	Logger  *zap.Logger

	// Reload is the source used by POST /v1/rules/reload. Nil disables the route.
	Reload rules.Source

	// RPS and Burst enable per-client rate limiting when RPS > 0.
	RPS   int
	Burst int

	// MaxRequestBytes caps the body of a single-transaction request. Zero
	// derives it from the scanner's MaxBytes. Batch requests get
	// batchBodyFactor times as much.
	MaxRequestBytes int64
}

// batchBodyFactor scales the single-request body cap for /v1/scan/batch.
const batchBodyFactor = 8

// Server handles the scan API.
type Server struct {
	scanner *engine.Scanner
	builder finding.Builder
	session config.Session
	metrics *metrics.Recorder
	reload  rules.Source
	logger  *zap.Logger
	opts    Options

	bodyLimit  int64
	batchLimit int64
}

// New creates a Server. Options.Scanner is required.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	name := opts.Session.IssueName
	if name == "" {
		name = opts.Scanner.Config().IssueName
	}
	limit := opts.MaxRequestBytes
	if limit <= 0 {
		// Bodies arrive base64 encoded, plus headers and JSON framing.
		limit = opts.Scanner.Config().MaxBytes*2 + 1<<20
	}
	return &Server{
		scanner:    opts.Scanner,
		builder:    finding.NewBuilder(name),
		session:    opts.Session,
		metrics:    opts.Metrics,
		reload:     opts.Reload,
		logger:     opts.Logger,
		opts:       opts,
		bodyLimit:  limit,
		batchLimit: limit * batchBodyFactor,
	}
}

// Router builds the gin engine with all routes and middleware installed.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.metrics.Middleware())
	r.Use(requestLogger(s.logger))

	r.GET("/healthz", s.Health)
	r.GET("/metrics", s.metrics.Handler())

	v1 := r.Group("/v1")
	if s.opts.RPS > 0 {
		v1.Use(RateLimiter(s.opts.RPS, s.opts.Burst))
	}
	s.Register(v1)
	return r
}

// Register registers the API routes on the given router group.
func (s *Server) Register(rg *gin.RouterGroup) {
	rg.POST("/scan", limitBody(s.bodyLimit), s.Scan)
	rg.POST("/scan/batch", limitBody(s.batchLimit), s.ScanBatch)
	rg.POST("/build", limitBody(s.bodyLimit), s.Build)
	rg.GET("/rules", s.Rules)
	if s.reload != nil {
		rg.POST("/rules/reload", s.Reload)
	}
}

// Health handles GET /healthz. It reports 503 until a rule snapshot exists.
func (s *Server) Health(c *gin.Context) {
	snap := s.scanner.Store().Current()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "no rules"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rules_version": snap.Version})
}

// Scan handles POST /v1/scan: one transaction in, one finding or 204 out.
func (s *Server) Scan(c *gin.Context) {
	var tx engine.Transaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		badRequest(c, err)
		return
	}
	f, err := s.scanner.ScanTransaction(c.Request.Context(), tx)
	if err != nil {
		s.fail(c, "scan", err)
		return
	}
	if f == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, f)
}

type batchRequest struct {
	Transactions []engine.Transaction `json:"transactions"`
}

// ScanBatch handles POST /v1/scan/batch and answers with a report envelope.
func (s *Server) ScanBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if len(req.Transactions) > maxBatch {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too many transactions"})
		return
	}
	res, err := s.scanner.ScanAll(c.Request.Context(), req.Transactions)
	if err != nil {
		s.fail(c, "batch scan", err)
		return
	}
	env := report.Envelope{
		SchemaVersion: "1",
		Tool:          "emcheck",
		Version:       report.ToolVersion,
		RulesVersion:  res.RulesVersion,
		Transactions:  res.Transactions,
		Skipped:       res.Skipped,
		DurationMS:    res.Duration.Milliseconds(),
		Findings:      res.Findings,
	}
	if snap := s.scanner.Store().Current(); snap != nil && snap.Version == res.RulesVersion {
		env.RulesDigest = snap.Digest
	}
	if env.Findings == nil {
		env.Findings = []types.Finding{}
	}
	c.JSON(http.StatusOK, env)
}

type buildRequest struct {
	Matches []wireMatch `json:"matches"`
}

// Build handles POST /v1/build: the host has already matched and wants the
// aggregated finding for its matches. Unknown rating labels count as absent.
func (s *Server) Build(c *gin.Context) {
	var req buildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	matches := make([]types.Match, 0, len(req.Matches))
	for i, wm := range req.Matches {
		m, dropped := wm.match()
		if dropped {
			s.logger.Debug("malformed rating ignored", zap.Int("match", i), zap.String("rule_type", m.RuleType))
		}
		matches = append(matches, m)
	}
	f, err := s.builder.Build(matches)
	if err != nil {
		if errors.Is(err, finding.ErrInvalidArgument) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.fail(c, "build", err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// Rules handles GET /v1/rules.
func (s *Server) Rules(c *gin.Context) {
	snap := s.scanner.Store().Current()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": engine.ErrNoRules.Error()})
		return
	}
	resp := gin.H{
		"version":   snap.Version,
		"digest":    snap.Digest,
		"source":    snap.Source,
		"loaded_at": snap.LoadedAt,
		"count":     snap.Len(),
		"types":     snap.Types(),
		"warnings":  len(snap.Warnings),
		"namespace": s.session.Namespace,
	}
	if c.Query("full") == "true" {
		resp["rules"] = snap.Rules()
	}
	c.JSON(http.StatusOK, resp)
}

// Reload handles POST /v1/rules/reload. A failed reload keeps the current
// snapshot and answers 502.
func (s *Server) Reload(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	snap, err := s.scanner.Store().Load(ctx, s.reload)
	if err != nil {
		s.logger.Warn("rules reload failed", zap.String("source", s.reload.String()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"version":  snap.Version,
		"digest":   snap.Digest,
		"count":    snap.Len(),
		"warnings": snap.Warnings,
	})
}

func (s *Server) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, engine.ErrNoRules):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, gin.H{"error": err.Error()})
	default:
		s.logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
