package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedRating is returned when a severity or confidence label is not
// part of the known enumeration.
var ErrMalformedRating = errors.New("malformed rating")

// Severity is the impact rating of a match or finding. The zero value means
// the rating is absent. Defined values are ordered INFO < LOW < MEDIUM < HIGH.
type Severity int

const (
	SevInfo Severity = iota + 1
	SevLow
	SevMedium
	SevHigh
)

var severityLabels = [...]string{
	SevInfo:   "Information",
	SevLow:    "Low",
	SevMedium: "Medium",
	SevHigh:   "High",
}

// Valid reports whether s is one of the defined severities.
func (s Severity) Valid() bool { return s >= SevInfo && s <= SevHigh }

// Rank returns the position of s in the severity order, or 0 when absent or malformed.
func (s Severity) Rank() int {
	if !s.Valid() {
		return 0
	}
	return int(s)
}

func (s Severity) String() string {
	if !s.Valid() {
		return ""
	}
	return severityLabels[s]
}

// ParseSeverity maps a label to a Severity. An empty label yields the absent
// value without error.
func ParseSeverity(label string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "":
		return 0, nil
	case "information", "informational", "info":
		return SevInfo, nil
	case "low":
		return SevLow, nil
	case "medium", "med":
		return SevMedium, nil
	case "high":
		return SevHigh, nil
	}
	return 0, fmt.Errorf("%w: severity %q", ErrMalformedRating, label)
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Confidence is the certainty that a match is a true positive. The zero value
// means absent. Defined values are ordered TENTATIVE < FIRM < CERTAIN.
type Confidence int

const (
	ConfTentative Confidence = iota + 1
	ConfFirm
	ConfCertain
)

var confidenceLabels = [...]string{
	ConfTentative: "Tentative",
	ConfFirm:      "Firm",
	ConfCertain:   "Certain",
}

// Valid reports whether c is one of the defined confidences.
func (c Confidence) Valid() bool { return c >= ConfTentative && c <= ConfCertain }

// Rank returns the position of c in the confidence order, or 0 when absent or malformed.
func (c Confidence) Rank() int {
	if !c.Valid() {
		return 0
	}
	return int(c)
}

func (c Confidence) String() string {
	if !c.Valid() {
		return ""
	}
	return confidenceLabels[c]
}

// ParseConfidence maps a label to a Confidence. An empty label yields the
// absent value without error.
func ParseConfidence(label string) (Confidence, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "":
		return 0, nil
	case "tentative":
		return ConfTentative, nil
	case "firm":
		return ConfFirm, nil
	case "certain":
		return ConfCertain, nil
	}
	return 0, fmt.Errorf("%w: confidence %q", ErrMalformedRating, label)
}

func (c Confidence) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Confidence) UnmarshalText(b []byte) error {
	v, err := ParseConfidence(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Span is a half-open byte range [Start, End) inside a scanned response.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Valid reports whether the span is well formed.
func (s Span) Valid() bool { return s.Start >= 0 && s.Start <= s.End }

// Match is one rule firing against a response body.
type Match struct {
	RuleType   string     `json:"rule_type"`
	Span       Span       `json:"span"`
	Severity   Severity   `json:"severity,omitempty"`
	Confidence Confidence `json:"confidence,omitempty"`
	Text       string     `json:"text,omitempty"` // matched excerpt, may be truncated
}

// Finding is the aggregated, reportable result of one or more matches within
// a single HTTP transaction.
type Finding struct {
	Name       string     `json:"name"`
	Detail     string     `json:"detail"`
	Severity   Severity   `json:"severity"`
	Confidence Confidence `json:"confidence"`
	Evidence   []Span     `json:"evidence"`
	RuleTypes  []string   `json:"rule_types,omitempty"`
	URL        string     `json:"url,omitempty"`
	Excerpt    string     `json:"excerpt,omitempty"` // text of the first match
}
