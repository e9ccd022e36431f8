package detectors

import (
	"context"
	"strings"
	"testing"

	"github.com/redactyl/emcheck/internal/rules"
	"github.com/redactyl/emcheck/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(t *testing.T, table string) *rules.Snapshot {
	t.Helper()
	snap, err := rules.ParseBytes([]byte(table), "test")
	require.NoError(t, err)
	return snap
}

const table = "SQL syntax\tSQL\tHigh\tTentative\n" +
	"Fatal error:\tPHP\tMedium\tFirm\n" +
	"error\tGeneric\n"

func TestRegexMatcher_OrderedByPosition(t *testing.T) {
	body := []byte("Fatal error: boom\nYou have an error in your SQL syntax")
	got := NewRegexMatcher().Match(snapshot(t, table), body)

	require.Len(t, got, 4)
	assert.Equal(t, "PHP", got[0].RuleType)
	assert.Equal(t, types.Span{Start: 0, End: 12}, got[0].Span)
	assert.Equal(t, "Fatal error:", got[0].Text)
	assert.Equal(t, types.SevMedium, got[0].Severity)
	assert.Equal(t, types.ConfFirm, got[0].Confidence)

	assert.Equal(t, "Generic", got[1].RuleType)
	assert.Equal(t, 6, got[1].Span.Start)
	assert.Equal(t, types.Severity(0), got[1].Severity)

	assert.Equal(t, "Generic", got[2].RuleType)
	assert.Equal(t, "SQL", got[3].RuleType)
	assert.Equal(t, "SQL syntax", string(body[got[3].Span.Start:got[3].Span.End]))
}

func TestRegexMatcher_SameStartKeepsTableOrder(t *testing.T) {
	snap := snapshot(t, "ORA-\\d+\tOracle\tHigh\tFirm\nORA-\tGeneric\tLow\tTentative\n")
	got := NewRegexMatcher().Match(snap, []byte("ORA-00933"))
	require.Len(t, got, 2)
	assert.Equal(t, "Oracle", got[0].RuleType)
	assert.Equal(t, "Generic", got[1].RuleType)
}

func TestRegexMatcher_NoMatch(t *testing.T) {
	assert.Empty(t, NewRegexMatcher().Match(snapshot(t, table), []byte("all good")))
	assert.Nil(t, NewRegexMatcher().Match(nil, []byte("Fatal error:")))
	assert.Nil(t, NewRegexMatcher().Match(snapshot(t, table), nil))
}

func TestRegexMatcher_MaxPerRule(t *testing.T) {
	body := []byte(strings.Repeat("error ", 50))
	snap := snapshot(t, "error\tGeneric\n")

	assert.Len(t, NewRegexMatcher().Match(snap, body), DefaultMaxPerRule)
	assert.Len(t, (&RegexMatcher{MaxPerRule: 3}).Match(snap, body), 3)
	assert.Len(t, (&RegexMatcher{MaxPerRule: -1}).Match(snap, body), 50)
}

func TestRegexMatcher_EnableDisable(t *testing.T) {
	body := []byte("Fatal error: x SQL syntax")
	snap := snapshot(t, table)

	got := (&RegexMatcher{Enable: []string{"php"}}).Match(snap, body)
	require.Len(t, got, 1)
	assert.Equal(t, "PHP", got[0].RuleType)

	got = (&RegexMatcher{Disable: []string{"generic", " sql "}}).Match(snap, body)
	require.Len(t, got, 1)
	assert.Equal(t, "PHP", got[0].RuleType)

	m := &RegexMatcher{Enable: []string{"PHP", "SQL"}, Disable: []string{"sql"}}
	assert.True(t, m.Allows("php"))
	assert.False(t, m.Allows("SQL"))
	assert.False(t, m.Allows("Python"))
}

func TestRegexMatcher_DedupesOverlappingPatterns(t *testing.T) {
	snap := snapshot(t, "Fatal error\tPHP\tMedium\tFirm\nFatal\\serror\tPHP\tHigh\tFirm\n")
	got := NewRegexMatcher().Match(snap, []byte("Fatal error"))
	require.Len(t, got, 1)
	assert.Equal(t, types.SevMedium, got[0].Severity)
}

func TestExcerpt_TrimsOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("a", maxText-1) + "é" + "tail"
	got := excerpt([]byte(long))
	assert.Equal(t, strings.Repeat("a", maxText-1), got)
	assert.Equal(t, "short", excerpt([]byte("short")))
}

func TestRunType(t *testing.T) {
	got := RunType(snapshot(t, table), "SQL", []byte("SQL syntax error"))
	require.Len(t, got, 1)
	assert.Equal(t, "SQL", got[0].RuleType)
}

func TestRegexMatcher_DefaultTable(t *testing.T) {
	store := rules.NewStore(nil)
	snap, err := store.Load(context.Background(), rules.DefaultSource())
	require.NoError(t, err)

	body := []byte("<html><body><b>Fatal error</b>:  Call to undefined function foo() in /var/www/index.php on line 12<br>" +
		"You have an error in your SQL syntax; check the manual</body></html>")
	got := NewRegexMatcher().Match(snap, body)
	require.NotEmpty(t, got)
	assert.Equal(t, "PHP", got[0].RuleType)

	var sawMySQL bool
	for _, m := range got {
		if m.RuleType == "MySQL" {
			sawMySQL = true
		}
	}
	assert.True(t, sawMySQL)
}
