package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/redactyl/emcheck/internal/detectors"
	"github.com/redactyl/emcheck/internal/finding"
	"github.com/redactyl/emcheck/internal/metrics"
	"github.com/redactyl/emcheck/internal/rules"
	"github.com/redactyl/emcheck/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTable = "Fatal error:\tPHP\tMedium\tFirm\n" +
	"SQL syntax\tSQL\tHigh\tTentative\n" +
	"Traceback \\(most recent call last\\)\tPython\tLow\tCertain\n"

func newStore(t *testing.T, table string) *rules.Store {
	t.Helper()
	s := rules.NewStore(nil)
	_, err := s.Load(context.Background(), rules.BytesSource{Name: "test", Data: []byte(table)})
	require.NoError(t, err)
	return s
}

func html(body string) Transaction {
	return Transaction{
		URL:    "https://app.example.com/index.php",
		Header: http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:   []byte(body),
	}
}

func TestScanTransaction_BuildsFinding(t *testing.T) {
	s := New(Config{}, Deps{Store: newStore(t, testTable), Metrics: metrics.New()})
	f, err := s.ScanTransaction(context.Background(), html("<b>Fatal error: x</b> ... your SQL syntax near"))
	require.NoError(t, err)
	require.NotNil(t, f)

	assert.Equal(t, finding.IssueName, f.Name)
	assert.Equal(t, types.SevHigh, f.Severity)
	assert.Equal(t, types.ConfFirm, f.Confidence)
	assert.Contains(t, f.Detail, "unhandled PHP exceptions")
	assert.Len(t, f.Evidence, 2)
	assert.Equal(t, "https://app.example.com/index.php", f.URL)
}

func TestScanTransaction_NoMatch(t *testing.T) {
	s := New(Config{}, Deps{Store: newStore(t, testTable)})
	f, err := s.ScanTransaction(context.Background(), html("<p>all good</p>"))
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestScanTransaction_NoRules(t *testing.T) {
	s := New(Config{}, Deps{})
	_, err := s.ScanTransaction(context.Background(), html("Fatal error:"))
	assert.ErrorIs(t, err, ErrNoRules)
}

func TestScanTransaction_Cancelled(t *testing.T) {
	s := New(Config{}, Deps{Store: newStore(t, testTable)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ScanTransaction(ctx, html("Fatal error:"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanTransaction_Skips(t *testing.T) {
	store := newStore(t, testTable)
	tests := []struct {
		name string
		cfg  Config
		tx   Transaction
	}{
		{name: "excluded path", cfg: Config{ExcludeGlobs: "**/*.php"}, tx: html("Fatal error:")},
		{name: "not included", cfg: Config{IncludeGlobs: "/api/**"}, tx: html("Fatal error:")},
		{name: "too large", cfg: Config{MaxBytes: 4}, tx: html("Fatal error:")},
		{name: "image", tx: Transaction{URL: "https://x/a", Header: http.Header{"Content-Type": []string{"image/png"}}, Body: []byte("Fatal error:")}},
		{name: "font suffix without type", tx: Transaction{URL: "https://x/a.woff2", Body: []byte("Fatal error:")}},
		{name: "nul bytes", tx: Transaction{URL: "https://x/a", Body: []byte("Fatal error:\x00\x01")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.cfg, Deps{Store: store})
			f, err := s.ScanTransaction(context.Background(), tt.tx)
			require.NoError(t, err)
			assert.Nil(t, f)
		})
	}
}

func TestScanTransaction_SVGIsScanned(t *testing.T) {
	s := New(Config{}, Deps{Store: newStore(t, testTable)})
	tx := Transaction{URL: "https://x/a.svg", Header: http.Header{"Content-Type": []string{"image/svg+xml"}}, Body: []byte("<svg>Fatal error:</svg>")}
	f, err := s.ScanTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.NotNil(t, f)
}

func TestScanTransaction_Floors(t *testing.T) {
	store := newStore(t, testTable)
	tx := html("Traceback (most recent call last)")

	f, err := New(Config{MinSeverity: types.SevMedium}, Deps{Store: store}).ScanTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Nil(t, f)

	f, err = New(Config{MinConfidence: types.ConfCertain}, Deps{Store: store}).ScanTransaction(context.Background(), tx)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, types.SevLow, f.Severity)
}

func TestScanTransaction_BuilderErrors(t *testing.T) {
	store := newStore(t, testTable)

	invalid := func(string, []types.Match) (types.Finding, error) {
		return types.Finding{}, fmt.Errorf("wrapped: %w", finding.ErrInvalidArgument)
	}
	f, err := New(Config{}, Deps{Store: store, Build: invalid}).ScanTransaction(context.Background(), html("Fatal error:"))
	require.NoError(t, err)
	assert.Nil(t, f)

	boom := errors.New("boom")
	failing := func(string, []types.Match) (types.Finding, error) { return types.Finding{}, boom }
	_, err = New(Config{}, Deps{Store: store, Build: failing}).ScanTransaction(context.Background(), html("Fatal error:"))
	assert.ErrorIs(t, err, boom)
}

func TestScanTransaction_CustomAggregator(t *testing.T) {
	always := func([]types.Match) (types.Severity, types.Confidence, error) {
		return types.SevLow, types.ConfCertain, nil
	}
	s := New(Config{IssueName: "Custom"}, Deps{Store: newStore(t, testTable), Aggregate: always})
	f, err := s.ScanTransaction(context.Background(), html("SQL syntax"))
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "Custom", f.Name)
	assert.Equal(t, types.SevLow, f.Severity)
	assert.Equal(t, types.ConfCertain, f.Confidence)
}

func TestScanAll_OrderAndStats(t *testing.T) {
	s := New(Config{Threads: 3}, Deps{Store: newStore(t, testTable)})
	var txs []Transaction
	for i := 0; i < 30; i++ {
		tx := html("nothing here")
		tx.URL = fmt.Sprintf("https://app.example.com/p/%d", i)
		switch i % 3 {
		case 0:
			tx.Body = []byte("Fatal error: at " + tx.URL)
		case 1:
			tx.Header.Set("Content-Type", "application/octet-stream")
		}
		txs = append(txs, tx)
	}

	var mu sync.Mutex
	progress := 0
	s.cfg.Progress = func() { mu.Lock(); progress++; mu.Unlock() }

	res, err := s.ScanAll(context.Background(), txs)
	require.NoError(t, err)
	assert.Equal(t, 30, res.Transactions)
	assert.Equal(t, 10, res.Skipped)
	assert.Equal(t, 30, progress)
	assert.Equal(t, uint64(1), res.RulesVersion)
	require.Len(t, res.Findings, 10)
	for i, f := range res.Findings {
		assert.Equal(t, fmt.Sprintf("https://app.example.com/p/%d", i*3), f.URL)
	}
}

func TestScanAll_DedupesIdenticalFindings(t *testing.T) {
	s := New(Config{}, Deps{Store: newStore(t, testTable)})
	tx := html("Fatal error:")
	res, err := s.ScanAll(context.Background(), []Transaction{tx, tx, tx})
	require.NoError(t, err)
	assert.Len(t, res.Findings, 1)
	assert.Equal(t, 3, res.Transactions)
}

func TestScanAll_NoRules(t *testing.T) {
	_, err := New(Config{}, Deps{}).ScanAll(context.Background(), []Transaction{html("x")})
	assert.ErrorIs(t, err, ErrNoRules)
}

// reloadingMatcher publishes a new snapshot on its first call.
type reloadingMatcher struct {
	once  sync.Once
	store *rules.Store
	inner detectors.Matcher
}

func (m *reloadingMatcher) Match(snap *rules.Snapshot, body []byte) []types.Match {
	m.once.Do(func() {
		_, _ = m.store.Load(context.Background(), rules.BytesSource{Name: "v2", Data: []byte("nothing matches this\tNone\n")})
	})
	return m.inner.Match(snap, body)
}

func TestScanAll_PinsSnapshot(t *testing.T) {
	store := newStore(t, testTable)
	m := &reloadingMatcher{store: store, inner: detectors.NewRegexMatcher()}
	s := New(Config{Threads: 1}, Deps{Store: store, Matcher: m})

	txs := []Transaction{html("Fatal error: a"), html("Fatal error: b"), html("Fatal error: c")}
	res, err := s.ScanAll(context.Background(), txs)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.RulesVersion)
	assert.Len(t, res.Findings, 3)
	assert.Equal(t, uint64(2), store.Current().Version)
}

func TestScanAll_Cancelled(t *testing.T) {
	s := New(Config{}, Deps{Store: newStore(t, testTable)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ScanAll(ctx, []Transaction{html("Fatal error:")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAllowedByGlobs(t *testing.T) {
	tests := []struct {
		url      string
		include  string
		exclude  string
		expected bool
	}{
		{url: "https://x/api/v1/users", include: "/api/**", expected: true},
		{url: "https://x/api/v1/users", include: "api/**", expected: true},
		{url: "https://x/static/app.js", include: "/api/**", expected: false},
		{url: "https://x/static/app.js", exclude: "**/*.js", expected: false},
		{url: "https://x/", include: "/", expected: true},
		{url: "dumps/error.http", include: "**/*.http", expected: true},
		{url: "https://x/a.php?q=1", include: "**/*.php", expected: true},
	}
	for _, tt := range tests {
		got := allowedByGlobs(tt.url, Config{IncludeGlobs: tt.include, ExcludeGlobs: tt.exclude})
		assert.Equal(t, tt.expected, got, "url=%s include=%s exclude=%s", tt.url, tt.include, tt.exclude)
	}
}
