package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/redactyl/emcheck/internal/types"
)

const baselineVersion = 1

// BaselineEntry is one triaged finding. Spans are not part of its identity so
// a page whose layout shifts is still recognised.
type BaselineEntry struct {
	URL      string         `json:"url"`
	Issue    string         `json:"issue"`
	RuleType string         `json:"rule_type,omitempty"`
	Severity types.Severity `json:"severity"`
}

func (e BaselineEntry) key() string { return e.URL + "|" + e.Issue + "|" + e.RuleType }

// Baseline records findings already triaged, so later runs report only new ones.
type Baseline struct {
	Version     int             `json:"version"`
	Created     time.Time       `json:"created"`
	RulesDigest string          `json:"rules_digest,omitempty"`
	Entries     []BaselineEntry `json:"entries"`

	index map[string]bool
}

func entryOf(f types.Finding) BaselineEntry {
	e := BaselineEntry{URL: f.URL, Issue: f.Name, Severity: f.Severity}
	if len(f.RuleTypes) > 0 {
		e.RuleType = f.RuleTypes[0]
	}
	return e
}

// NewBaseline builds a baseline from findings, sorted and deduplicated.
func NewBaseline(findings []types.Finding, rulesDigest string) Baseline {
	b := Baseline{Version: baselineVersion, Created: time.Now().UTC(), RulesDigest: rulesDigest}
	b.index = map[string]bool{}
	for _, f := range findings {
		e := entryOf(f)
		if b.index[e.key()] {
			continue
		}
		b.index[e.key()] = true
		b.Entries = append(b.Entries, e)
	}
	sort.Slice(b.Entries, func(i, j int) bool { return b.Entries[i].key() < b.Entries[j].key() })
	return b
}

// LoadBaseline reads path. On error the returned baseline is empty but usable.
func LoadBaseline(path string) (Baseline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Baseline{index: map[string]bool{}}, err
	}
	var b Baseline
	if err := json.Unmarshal(raw, &b); err != nil {
		return Baseline{index: map[string]bool{}}, fmt.Errorf("baseline %s: %w", path, err)
	}
	if b.Version > baselineVersion {
		return Baseline{index: map[string]bool{}}, fmt.Errorf("baseline %s: unsupported version %d", path, b.Version)
	}
	b.index = make(map[string]bool, len(b.Entries))
	for _, e := range b.Entries {
		b.index[e.key()] = true
	}
	return b, nil
}

// Save writes the baseline through a temp file so a crash never leaves half a file.
func (b Baseline) Save(path string) error {
	buf, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".baseline-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(buf, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// SaveBaseline records findings as the new baseline at path.
func SaveBaseline(path string, findings []types.Finding, rulesDigest string) error {
	return NewBaseline(findings, rulesDigest).Save(path)
}

// Len reports the number of entries.
func (b Baseline) Len() int { return len(b.Entries) }

// Has reports whether f is already triaged.
func (b Baseline) Has(f types.Finding) bool { return b.index[entryOf(f).key()] }

// Filter returns the findings that are not in the baseline, never nil.
func (b Baseline) Filter(findings []types.Finding) []types.Finding {
	out := make([]types.Finding, 0, len(findings))
	for _, f := range findings {
		if !b.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// ShouldFail reports whether any finding reaches the failOn severity
// (info, low, medium, high). An unknown threshold means medium; "none"
// never fails.
func ShouldFail(findings []types.Finding, failOn string) bool {
	failOn = strings.ToLower(strings.TrimSpace(failOn))
	if failOn == "none" || failOn == "off" {
		return false
	}
	th, err := types.ParseSeverity(failOn)
	if err != nil || !th.Valid() {
		th = types.SevMedium
	}
	for _, f := range findings {
		if f.Severity.Rank() >= th.Rank() {
			return true
		}
	}
	return false
}
