package rules

import (
	"fmt"
	"regexp"
	"time"

	"github.com/dlclark/regexp2"
)

// regexp2 backtracks; bound each evaluation so a hostile body cannot stall a worker.
const backtrackTimeout = 250 * time.Millisecond

type pattern interface {
	findAll(b []byte, n int) [][]int
	engine() string
}

type re2Pattern struct{ re *regexp.Regexp }

func (p re2Pattern) findAll(b []byte, n int) [][]int { return p.re.FindAllIndex(b, n) }
func (p re2Pattern) engine() string                  { return "re2" }

// backtrackPattern wraps regexp2 for rules written with lookarounds or
// backreferences, which RE2 rejects.
type backtrackPattern struct{ re *regexp2.Regexp }

func (p backtrackPattern) engine() string { return "regexp2" }

func (p backtrackPattern) findAll(b []byte, n int) [][]int {
	s := string(b)
	// regexp2 reports rune offsets; map them back to byte offsets.
	offsets := make([]int, 0, len(s)+1)
	for i := range s {
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(s))

	var out [][]int
	m, err := p.re.FindStringMatch(s)
	for m != nil && err == nil {
		if n >= 0 && len(out) >= n {
			break
		}
		start, end := m.Index, m.Index+m.Length
		if start < len(offsets) && end < len(offsets) {
			out = append(out, []int{offsets[start], offsets[end]})
		}
		m, err = p.re.FindNextMatch(m)
	}
	return out
}

func compile(expr string) (pattern, error) {
	re, err := regexp.Compile(expr)
	if err == nil {
		return re2Pattern{re: re}, nil
	}
	re2, err2 := regexp2.Compile(expr, regexp2.None)
	if err2 != nil {
		return nil, fmt.Errorf("compile %q: %v; fallback: %w", expr, err, err2)
	}
	re2.MatchTimeout = backtrackTimeout
	return backtrackPattern{re: re2}, nil
}
