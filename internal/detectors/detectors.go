package detectors

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/redactyl/emcheck/internal/rules"
	"github.com/redactyl/emcheck/internal/types"
)

// DefaultMaxPerRule bounds how many hits a single rule may contribute per body.
// A negative MaxPerRule removes the bound.
const DefaultMaxPerRule = 10

const maxText = 200

// Matcher produces the matches of a rule snapshot against one body.
type Matcher interface {
	Match(snap *rules.Snapshot, body []byte) []types.Match
}

// RegexMatcher evaluates every compiled rule of the snapshot. Enable and
// Disable filter by rule type, case-insensitively; an empty Enable allows all.
type RegexMatcher struct {
	MaxPerRule int
	Enable     []string
	Disable    []string
}

// NewRegexMatcher returns a matcher with the default per-rule cap.
func NewRegexMatcher() *RegexMatcher { return &RegexMatcher{MaxPerRule: DefaultMaxPerRule} }

// Match returns the hits in body ordered by span start. Ties keep table order.
func (m *RegexMatcher) Match(snap *rules.Snapshot, body []byte) []types.Match {
	if snap == nil || len(body) == 0 {
		return nil
	}
	limit := m.MaxPerRule
	if limit == 0 {
		limit = DefaultMaxPerRule
	}
	allowed := typeSet(m.Enable)
	blocked := typeSet(m.Disable)

	var out []types.Match
	for _, r := range snap.Compiled() {
		if !admits(allowed, blocked, r.RuleType) {
			continue
		}
		out = append(out, runRule(r, body, limit)...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Span.Start < out[j].Span.Start })
	return dedupe(out)
}

// Allows reports whether rules of ruleType pass the Enable and Disable lists.
func (m *RegexMatcher) Allows(ruleType string) bool {
	return admits(typeSet(m.Enable), typeSet(m.Disable), ruleType)
}

func admits(allowed, blocked map[string]bool, ruleType string) bool {
	key := strings.ToLower(ruleType)
	if len(allowed) > 0 && !allowed[key] {
		return false
	}
	return !blocked[key]
}

// RunType evaluates only the rules of one type. It backs the rules test command.
func RunType(snap *rules.Snapshot, ruleType string, body []byte) []types.Match {
	m := &RegexMatcher{MaxPerRule: -1, Enable: []string{ruleType}}
	return m.Match(snap, body)
}

func runRule(r *rules.CompiledRule, body []byte, limit int) []types.Match {
	idx := r.FindAll(body, limit)
	out := make([]types.Match, 0, len(idx))
	for _, loc := range idx {
		out = append(out, types.Match{
			RuleType:   r.RuleType,
			Span:       types.Span{Start: loc[0], End: loc[1]},
			Severity:   r.Severity,
			Confidence: r.Confidence,
			Text:       excerpt(body[loc[0]:loc[1]]),
		})
	}
	return out
}

// excerpt trims b to maxText bytes without splitting a rune.
func excerpt(b []byte) string {
	if len(b) <= maxText {
		return string(b)
	}
	n := maxText
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return string(b[:n])
}

func typeSet(list []string) map[string]bool {
	if len(list) == 0 {
		return nil
	}
	out := make(map[string]bool, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out[strings.ToLower(s)] = true
		}
	}
	return out
}

// dedupe drops repeated hits of the same type on the same span, which happens
// when a table lists overlapping patterns for one platform.
func dedupe(ms []types.Match) []types.Match {
	type key struct {
		ruleType string
		span     types.Span
	}
	seen := make(map[key]bool, len(ms))
	result := ms[:0]
	for _, m := range ms {
		k := key{m.RuleType, m.Span}
		if !seen[k] {
			seen[k] = true
			result = append(result, m)
		}
	}
	return result
}
