// Package audit appends one JSON line per scan so results can be compared
// across runs against the same target.
package audit

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redactyl/emcheck/internal/types"
)

// FileName is the log file created inside the audit directory.
const FileName = "emcheck_audit.jsonl"

const maxTopFindings = 10

// Record is one scan.
type Record struct {
	ScanID         string          `json:"scan_id"`
	Timestamp      time.Time       `json:"timestamp"`
	Target         string          `json:"target"`
	TotalFindings  int             `json:"total_findings"`
	NewFindings    int             `json:"new_findings"`
	BaselinedCount int             `json:"baselined_count"`
	SeverityCounts map[string]int  `json:"severity_counts"`
	Transactions   int             `json:"transactions"`
	Skipped        int             `json:"skipped"`
	RulesVersion   uint64          `json:"rules_version"`
	RulesDigest    string          `json:"rules_digest,omitempty"`
	Duration       string          `json:"duration"`
	BaselineFile   string          `json:"baseline_file,omitempty"`
	Top            []Summary       `json:"top_findings,omitempty"`
	Findings       []types.Finding `json:"all_findings,omitempty"`
}

// Summary is the short form of a new finding kept for quick display.
type Summary struct {
	URL        string `json:"url"`
	RuleType   string `json:"rule_type"`
	Severity   string `json:"severity"`
	Confidence string `json:"confidence"`
}

// Input is what a finished scan hands to NewRecord.
type Input struct {
	Target       string
	All          []types.Finding
	New          []types.Finding
	Transactions int
	Skipped      int
	RulesVersion uint64
	RulesDigest  string
	Duration     time.Duration
	BaselineFile string
}

// NewRecord summarises a scan. Matched excerpts are replaced before storage.
func NewRecord(in Input) Record {
	now := time.Now().UTC()
	rec := Record{
		ScanID:         NewScanID(now),
		Timestamp:      now,
		Target:         in.Target,
		TotalFindings:  len(in.All),
		NewFindings:    len(in.New),
		BaselinedCount: len(in.All) - len(in.New),
		SeverityCounts: map[string]int{},
		Transactions:   in.Transactions,
		Skipped:        in.Skipped,
		RulesVersion:   in.RulesVersion,
		RulesDigest:    in.RulesDigest,
		Duration:       in.Duration.String(),
		BaselineFile:   in.BaselineFile,
		Findings:       make([]types.Finding, len(in.All)),
	}
	for i, f := range in.All {
		rec.SeverityCounts[f.Severity.String()]++
		if f.Excerpt != "" {
			f.Excerpt = "[REDACTED]"
		}
		rec.Findings[i] = f
	}
	for _, f := range in.New {
		if len(rec.Top) == maxTopFindings {
			break
		}
		s := Summary{URL: f.URL, Severity: f.Severity.String(), Confidence: f.Confidence.String()}
		if len(f.RuleTypes) > 0 {
			s.RuleType = f.RuleTypes[0]
		}
		rec.Top = append(rec.Top, s)
	}
	return rec
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewScanID returns a lexically sortable ULID for t (now when zero).
func NewScanID(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Log is a JSONL file of scan records, oldest first on disk.
type Log struct {
	path string
	mu   sync.Mutex
}

// Open returns the log stored under dir. The file is created on first Append.
func Open(dir string) *Log {
	return &Log{path: filepath.Join(dir, FileName)}
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// Append writes rec as one line, assigning a scan id when it has none. The
// file is owner-only since findings quote server internals.
func (l *Log) Append(rec Record) error {
	if rec.ScanID == "" {
		rec.ScanID = NewScanID(rec.Timestamp)
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("write audit record: %w", err)
	}
	return f.Close()
}

// History returns the records newest first. Lines that do not decode are
// skipped. A missing log reports an error wrapping os.ErrNotExist.
func (l *Log) History() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

func (l *Log) read() ([]Record, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var records []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if json.Unmarshal(line, &rec) != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Delete removes the record at index in History order and rewrites the log.
func (l *Log) Delete(index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	records, err := l.read()
	if err != nil {
		return err
	}
	if index < 0 || index >= len(records) {
		return fmt.Errorf("invalid index %d (have %d records)", index, len(records))
	}
	records = append(records[:index], records[index+1:]...)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := len(records) - 1; i >= 0; i-- {
		if err := enc.Encode(records[i]); err != nil {
			return fmt.Errorf("encode audit record: %w", err)
		}
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("rewrite audit log: %w", err)
	}
	return os.Rename(tmp, l.path)
}
