package core

import (
	"context"

	"github.com/redactyl/emcheck/internal/engine"
	"github.com/redactyl/emcheck/internal/finding"
	"github.com/redactyl/emcheck/internal/rules"
	"github.com/redactyl/emcheck/internal/types"
)

// Re-export selected internal types as a stable public API surface.
// These are type aliases so external consumers can depend on a stable path.
type (
	Config         = engine.Config
	Transaction    = engine.Transaction
	Result         = engine.Result
	Scanner        = engine.Scanner
	Finding        = types.Finding
	Match          = types.Match
	Span           = types.Span
	Severity       = types.Severity
	Confidence     = types.Confidence
	Aggregator     = finding.Aggregator
	FindingBuilder = finding.FindingBuilder
)

const (
	SevInfo   = types.SevInfo
	SevLow    = types.SevLow
	SevMedium = types.SevMedium
	SevHigh   = types.SevHigh

	ConfTentative = types.ConfTentative
	ConfFirm      = types.ConfFirm
	ConfCertain   = types.ConfCertain

	// IssueName is the default name given to findings.
	IssueName = finding.IssueName
)

// ErrInvalidArgument is returned by Aggregate and Build for an empty match list.
var ErrInvalidArgument = finding.ErrInvalidArgument

// Aggregate returns the maximum severity and confidence across matches.
func Aggregate(matches []Match) (Severity, Confidence, error) { return finding.Aggregate(matches) }

// Build turns the matches of one response into a single finding.
func Build(issueName string, matches []Match) (Finding, error) {
	return finding.Build(issueName, matches)
}

// NewScanner returns a scanner loaded with the built-in rule table.
func NewScanner(ctx context.Context, cfg Config) (*Scanner, error) {
	store := rules.NewStore(nil)
	if _, err := store.Load(ctx, rules.DefaultSource()); err != nil {
		return nil, err
	}
	return engine.New(cfg, engine.Deps{Store: store}), nil
}

// ScanAll is a convenience wrapper that scans txs with the built-in rules.
func ScanAll(ctx context.Context, cfg Config, txs []Transaction) (Result, error) {
	sc, err := NewScanner(ctx, cfg)
	if err != nil {
		return Result{}, err
	}
	return sc.ScanAll(ctx, txs)
}

// ReadResponseFile loads one raw HTTP/1.x response dump (status line,
// headers, body) as a transaction.
func ReadResponseFile(path string) (Transaction, error) { return engine.ReadRawResponse(path) }

// RuleTypes lists the platforms covered by the built-in rule table.
func RuleTypes() []string {
	rc, err := rules.DefaultSource().Open(context.Background())
	if err != nil {
		return nil
	}
	defer rc.Close()
	snap, err := rules.Parse(rc, "builtin")
	if err != nil {
		return nil
	}
	return snap.Types()
}
