package rules

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redactyl/emcheck/internal/cache"
	"github.com/redactyl/emcheck/internal/types"
)

// MaxTableBytes caps the size of a rule table read from any source.
const MaxTableBytes = 4 << 20

// ErrNoRules is returned when a table yields no usable rule.
var ErrNoRules = errors.New("rule table has no usable rules")

// Rule is one parsed line of the table.
type Rule struct {
	Pattern    string           `json:"pattern"`
	RuleType   string           `json:"rule_type"`
	Severity   types.Severity   `json:"severity,omitempty"`
	Confidence types.Confidence `json:"confidence,omitempty"`
	Line       int              `json:"line"`
}

// CompiledRule is a Rule with its compiled pattern. It is immutable and safe
// for concurrent use.
type CompiledRule struct {
	Rule
	pat pattern
}

// FindAll returns up to n [start, end) byte ranges where the rule matches body.
// n < 0 means no limit.
func (r *CompiledRule) FindAll(body []byte, n int) [][]int {
	return r.pat.findAll(body, n)
}

// Engine names the regex engine used for this rule ("re2" or "regexp2").
func (r *CompiledRule) Engine() string { return r.pat.engine() }

// Warning records a table line that was skipped or partially understood.
type Warning struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (w Warning) String() string { return fmt.Sprintf("line %d: %s", w.Line, w.Message) }

// Snapshot is an immutable, versioned rule set.
type Snapshot struct {
	Version  uint64
	Digest   string
	Source   string
	LoadedAt time.Time
	Warnings []Warning

	rules []*CompiledRule
}

// Len returns the number of usable rules.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Compiled returns the compiled rules in table order. The returned slice is a
// copy; the rules themselves are shared and immutable.
func (s *Snapshot) Compiled() []*CompiledRule {
	if s == nil {
		return nil
	}
	return append([]*CompiledRule(nil), s.rules...)
}

// Rules returns the parsed rules in table order.
func (s *Snapshot) Rules() []Rule {
	if s == nil {
		return nil
	}
	out := make([]Rule, len(s.rules))
	for i, r := range s.rules {
		out[i] = r.Rule
	}
	return out
}

// Types returns the distinct rule types in table order.
func (s *Snapshot) Types() []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range s.Rules() {
		if !seen[r.RuleType] {
			seen[r.RuleType] = true
			out = append(out, r.RuleType)
		}
	}
	return out
}

// withVersion returns a shallow copy of s carrying v. The rule slice is shared
// since neither copy mutates it.
func (s *Snapshot) withVersion(v uint64) *Snapshot {
	cp := *s
	cp.Version = v
	return &cp
}

// Parse reads a rule table from r. source is recorded on the snapshot for
// diagnostics. The returned snapshot has Version 0 until published by a Store.
func Parse(r io.Reader, source string) (*Snapshot, error) {
	raw, err := io.ReadAll(io.LimitReader(r, MaxTableBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read rule table: %w", err)
	}
	if len(raw) > MaxTableBytes {
		return nil, fmt.Errorf("rule table exceeds %d bytes", MaxTableBytes)
	}
	return ParseBytes(raw, source)
}

// ParseBytes parses an in-memory rule table.
func ParseBytes(raw []byte, source string) (*Snapshot, error) {
	snap := &Snapshot{
		Digest:   cache.Digest(raw),
		Source:   source,
		LoadedAt: time.Now().UTC(),
	}
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(strings.TrimSpace(text), "#") {
			continue
		}
		rule, warns, ok := parseLine(text, line)
		snap.Warnings = append(snap.Warnings, warns...)
		if !ok {
			continue
		}
		pat, err := compile(rule.Pattern)
		if err != nil {
			snap.Warnings = append(snap.Warnings, Warning{Line: line, Message: err.Error()})
			continue
		}
		snap.rules = append(snap.rules, &CompiledRule{Rule: rule, pat: pat})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan rule table: %w", err)
	}
	if len(snap.rules) == 0 {
		return snap, ErrNoRules
	}
	return snap, nil
}

func parseLine(text string, line int) (Rule, []Warning, bool) {
	var warns []Warning
	fields := strings.Split(text, "\t")
	if len(fields) < 2 {
		return Rule{}, []Warning{{Line: line, Message: "expected pattern<TAB>type[<TAB>severity<TAB>confidence]"}}, false
	}
	r := Rule{Pattern: fields[0], RuleType: strings.TrimSpace(fields[1]), Line: line}
	if r.Pattern == "" {
		return Rule{}, []Warning{{Line: line, Message: "empty pattern"}}, false
	}
	if r.RuleType == "" {
		return Rule{}, []Warning{{Line: line, Message: "empty rule type"}}, false
	}
	if len(fields) > 2 {
		sev, err := types.ParseSeverity(fields[2])
		if err != nil {
			warns = append(warns, Warning{Line: line, Message: err.Error() + "; treated as absent"})
		}
		r.Severity = sev
	}
	if len(fields) > 3 {
		conf, err := types.ParseConfidence(fields[3])
		if err != nil {
			warns = append(warns, Warning{Line: line, Message: err.Error() + "; treated as absent"})
		}
		r.Confidence = conf
	}
	return r, warns, true
}
