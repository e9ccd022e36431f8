package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redactyl/emcheck/internal/types"
)

// wireMatch is a Match as posted by a host. Ratings stay raw so that one
// unknown label drops that rating instead of rejecting the request.
type wireMatch struct {
	RuleType   string          `json:"rule_type"`
	Span       types.Span      `json:"span"`
	Severity   json.RawMessage `json:"severity,omitempty"`
	Confidence json.RawMessage `json:"confidence,omitempty"`
	Text       string          `json:"text,omitempty"`
}

// ratingLabel returns the label of a raw rating. Numbers are accepted as
// their ordinal value; anything else yields "".
func ratingLabel(raw json.RawMessage, byValue func(int) string) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n int
	if json.Unmarshal(raw, &n) == nil {
		return byValue(n)
	}
	return ""
}

// match converts w, treating malformed ratings as absent. It reports whether
// any rating was dropped.
func (w wireMatch) match() (types.Match, bool) {
	m := types.Match{RuleType: w.RuleType, Span: w.Span, Text: w.Text}
	dropped := false
	if label := ratingLabel(w.Severity, func(n int) string { return types.Severity(n).String() }); label != "" {
		if sev, err := types.ParseSeverity(label); err == nil {
			m.Severity = sev
		} else {
			dropped = true
		}
	} else if len(w.Severity) > 0 && string(w.Severity) != "null" {
		dropped = true
	}
	if label := ratingLabel(w.Confidence, func(n int) string { return types.Confidence(n).String() }); label != "" {
		if conf, err := types.ParseConfidence(label); err == nil {
			m.Confidence = conf
		} else {
			dropped = true
		}
	} else if len(w.Confidence) > 0 && string(w.Confidence) != "null" {
		dropped = true
	}
	return m, dropped
}

// limitBody caps the request body at n bytes.
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// badRequest answers 413 for an oversize body and 400 for anything else.
func badRequest(c *gin.Context, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
