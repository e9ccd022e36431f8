package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	xxhash "github.com/cespare/xxhash/v2"
	"github.com/redactyl/emcheck/internal/detectors"
	"github.com/redactyl/emcheck/internal/finding"
	"github.com/redactyl/emcheck/internal/metrics"
	"github.com/redactyl/emcheck/internal/rules"
	"github.com/redactyl/emcheck/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoRules is returned when a scan starts before any snapshot is published.
var ErrNoRules = errors.New("no rule snapshot loaded")

// Config controls scope and performance of a scan.
type Config struct {
	IssueName     string
	IncludeGlobs  string
	ExcludeGlobs  string
	MaxBytes      int64
	Threads       int
	MinSeverity   types.Severity
	MinConfidence types.Confidence
	Progress      func()
}

// Deps are the collaborators of a Scanner. Only Store is required.
type Deps struct {
	Store     *rules.Store
	Matcher   detectors.Matcher
	Aggregate finding.Aggregator
	Build     finding.FindingBuilder
	Logger    *zap.Logger
	Metrics   *metrics.Recorder
}

// Scanner runs transactions through the matcher and builder. It is safe for
// concurrent use.
type Scanner struct {
	cfg  Config
	deps Deps
}

// New fills unset dependencies with the defaults and returns a Scanner.
func New(cfg Config, deps Deps) *Scanner {
	if cfg.IssueName == "" {
		cfg.IssueName = finding.IssueName
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.GOMAXPROCS(0)
	}
	if deps.Store == nil {
		deps.Store = rules.NewStore(deps.Logger)
	}
	if deps.Matcher == nil {
		deps.Matcher = detectors.NewRegexMatcher()
	}
	if deps.Aggregate == nil {
		deps.Aggregate = finding.Aggregate
	}
	if deps.Build == nil {
		agg := deps.Aggregate
		deps.Build = func(name string, ms []types.Match) (types.Finding, error) {
			return finding.BuildWith(agg, name, ms)
		}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Scanner{cfg: cfg, deps: deps}
}

// Config returns the effective configuration.
func (s *Scanner) Config() Config { return s.cfg }

// Store returns the rule store the scanner reads from.
func (s *Scanner) Store() *rules.Store { return s.deps.Store }

// Result contains findings and basic scan statistics.
type Result struct {
	Findings     []types.Finding
	Transactions int
	Skipped      int
	Duration     time.Duration
	RulesVersion uint64
}

// ScanTransaction checks one transaction against the current snapshot. A nil
// finding with a nil error means nothing was reported.
func (s *Scanner) ScanTransaction(ctx context.Context, tx Transaction) (*types.Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := s.deps.Store.Current()
	if snap == nil {
		return nil, ErrNoRules
	}
	f, _, err := s.scan(snap, tx)
	return f, err
}

// ScanAll scans txs with at most Config.Threads workers. Every transaction is
// checked against the same snapshot even if the store is reloaded meanwhile.
func (s *Scanner) ScanAll(ctx context.Context, txs []Transaction) (Result, error) {
	var res Result
	snap := s.deps.Store.Current()
	if snap == nil {
		return res, ErrNoRules
	}
	res.RulesVersion = snap.Version
	started := time.Now()

	found := make([]*types.Finding, len(txs))
	skipped := make([]bool, len(txs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Threads)
	for i := range txs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, skip, err := s.scan(snap, txs[i])
			if err != nil {
				return fmt.Errorf("scan %s: %w", txs[i].Label(), err)
			}
			found[i] = f
			skipped[i] = skip != ""
			if s.cfg.Progress != nil {
				s.cfg.Progress()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	seen := make(map[string]bool)
	for i, f := range found {
		res.Transactions++
		if skipped[i] {
			res.Skipped++
		}
		if f == nil {
			continue
		}
		k := findingKey(*f)
		if seen[k] {
			continue
		}
		seen[k] = true
		res.Findings = append(res.Findings, *f)
	}
	res.Duration = time.Since(started)
	return res, nil
}

// scan returns the finding for tx, or the reason tx was not matched.
func (s *Scanner) scan(snap *rules.Snapshot, tx Transaction) (*types.Finding, string, error) {
	log := s.deps.Logger
	if reason := s.skipReason(tx); reason != "" {
		s.deps.Metrics.RecordSkip(reason)
		log.Debug("transaction skipped", zap.String("tx", tx.Label()), zap.String("reason", reason))
		return nil, reason, nil
	}

	started := time.Now()
	matches := s.deps.Matcher.Match(snap, tx.Body)
	s.deps.Metrics.ObserveScan(time.Since(started))
	if len(matches) == 0 {
		return nil, "", nil
	}

	f, err := s.deps.Build(s.cfg.IssueName, matches)
	if err != nil {
		if errors.Is(err, finding.ErrInvalidArgument) {
			log.Warn("finding not built", zap.String("tx", tx.Label()), zap.Error(err))
			return nil, "", nil
		}
		return nil, "", err
	}
	if !meetsFloor(f, s.cfg.MinSeverity, s.cfg.MinConfidence) {
		return nil, "", nil
	}
	f.URL = tx.URL
	s.deps.Metrics.RecordFinding(f.Severity.String())
	log.Debug("finding",
		zap.String("tx", tx.Label()),
		zap.String("severity", f.Severity.String()),
		zap.String("confidence", f.Confidence.String()),
		zap.Strings("rule_types", f.RuleTypes),
		zap.Uint64("rules_version", snap.Version),
	)
	return &f, "", nil
}

func (s *Scanner) skipReason(tx Transaction) string {
	if !allowedByGlobs(tx.URL, s.cfg) {
		return "scope"
	}
	if int64(len(tx.Body)) > s.cfg.MaxBytes {
		return "size"
	}
	ct := tx.Header.Get("Content-Type")
	if skipContentType(ct) || (ct == "" && hasExcludedSuffix(tx.URL)) || looksBinary(tx.Body) {
		return "binary"
	}
	return ""
}

func meetsFloor(f types.Finding, sev types.Severity, conf types.Confidence) bool {
	if sev.Valid() && f.Severity.Rank() < sev.Rank() {
		return false
	}
	if conf.Valid() && f.Confidence.Rank() < conf.Rank() {
		return false
	}
	return true
}

func findingKey(f types.Finding) string {
	d := xxhash.New()
	_, _ = d.WriteString(f.URL)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(f.Detail)
	for _, sp := range f.Evidence {
		_, _ = d.WriteString("\x00" + strconv.Itoa(sp.Start) + ":" + strconv.Itoa(sp.End))
	}
	return fastHash(d.Sum64())
}

func fastHash(sum uint64) string {
	var buf [16]byte
	const hex = "0123456789abcdef"
	for i := 15; i >= 0; i-- {
		buf[i] = hex[sum&0xF]
		sum >>= 4
	}
	return string(buf[:])
}
