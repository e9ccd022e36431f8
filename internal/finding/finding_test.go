package finding

import (
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/redactyl/emcheck/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func m(ruleType string, sev types.Severity, conf types.Confidence, start, end int) types.Match {
	return types.Match{RuleType: ruleType, Severity: sev, Confidence: conf, Span: types.Span{Start: start, End: end}}
}

func TestAggregate_MaxPerFamily(t *testing.T) {
	tests := []struct {
		name     string
		matches  []types.Match
		wantSev  types.Severity
		wantConf types.Confidence
	}{
		{
			name: "php then sql",
			matches: []types.Match{
				m("PHP", types.SevMedium, types.ConfFirm, 0, 10),
				m("SQL", types.SevHigh, types.ConfTentative, 20, 30),
			},
			wantSev:  types.SevHigh,
			wantConf: types.ConfFirm,
		},
		{
			name:     "single perl",
			matches:  []types.Match{m("Perl", types.SevInfo, types.ConfTentative, 0, 4)},
			wantSev:  types.SevInfo,
			wantConf: types.ConfTentative,
		},
		{
			name:     "all absent falls back to lowest",
			matches:  []types.Match{m("Java", 0, 0, 0, 4), m("Ruby", 0, 0, 5, 9)},
			wantSev:  types.SevInfo,
			wantConf: types.ConfTentative,
		},
		{
			name: "absent does not suppress present",
			matches: []types.Match{
				m("ASP", 0, 0, 0, 1),
				m("ASP", types.SevLow, types.ConfCertain, 2, 3),
				m("ASP", 0, 0, 4, 5),
			},
			wantSev:  types.SevLow,
			wantConf: types.ConfCertain,
		},
		{
			name: "malformed ratings treated as absent",
			matches: []types.Match{
				m("Python", types.Severity(99), types.Confidence(-3), 0, 1),
				m("Python", types.SevMedium, types.ConfFirm, 2, 3),
			},
			wantSev:  types.SevMedium,
			wantConf: types.ConfFirm,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sev, conf, err := Aggregate(tt.matches)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSev, sev)
			assert.Equal(t, tt.wantConf, conf)
		})
	}
}

func TestAggregate_Empty(t *testing.T) {
	_, _, err := Aggregate(nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, _, err = Aggregate([]types.Match{})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func randomMatches(r *rand.Rand, n int) []types.Match {
	out := make([]types.Match, n)
	for i := range out {
		out[i] = types.Match{
			RuleType:   []string{"PHP", "SQL", "Java", "Perl"}[r.Intn(4)],
			Severity:   types.Severity(r.Intn(6) - 1), // includes absent and malformed
			Confidence: types.Confidence(r.Intn(5) - 1),
			Span:       types.Span{Start: i, End: i + 1},
		}
	}
	return out
}

func TestAggregate_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		ms := randomMatches(r, 1+r.Intn(12))
		sev, conf, err := Aggregate(ms)
		require.NoError(t, err)

		// upper bound and exact maximum
		maxSev, maxConf := types.SevInfo, types.ConfTentative
		for _, x := range ms {
			if x.Severity.Valid() {
				assert.GreaterOrEqual(t, sev.Rank(), x.Severity.Rank())
				if x.Severity > maxSev {
					maxSev = x.Severity
				}
			}
			if x.Confidence.Valid() {
				assert.GreaterOrEqual(t, conf.Rank(), x.Confidence.Rank())
				if x.Confidence > maxConf {
					maxConf = x.Confidence
				}
			}
		}
		assert.Equal(t, maxSev, sev)
		assert.Equal(t, maxConf, conf)

		// order independence
		shuffled := append([]types.Match(nil), ms...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		s2, c2, err := Aggregate(shuffled)
		require.NoError(t, err)
		assert.Equal(t, sev, s2)
		assert.Equal(t, conf, c2)

		// idempotent under duplication
		dup := append(append([]types.Match(nil), ms...), ms[r.Intn(len(ms))])
		s3, c3, err := Aggregate(dup)
		require.NoError(t, err)
		assert.Equal(t, sev, s3)
		assert.Equal(t, conf, c3)
	}
}

func TestAggregate_SeverityOnlyMatch(t *testing.T) {
	base := []types.Match{m("PHP", types.SevLow, types.ConfFirm, 0, 1)}
	withSevOnly := append(base, m("SQL", types.SevHigh, 0, 2, 3))

	_, confBase, err := Aggregate(base)
	require.NoError(t, err)
	sev, conf, err := Aggregate(withSevOnly)
	require.NoError(t, err)
	assert.Equal(t, types.SevHigh, sev)
	assert.Equal(t, confBase, conf)
}

func TestBuild_NamesFirstMatchOnly(t *testing.T) {
	matches := []types.Match{
		m("PHP", types.SevMedium, types.ConfFirm, 5, 20),
		m("SQL", types.SevHigh, types.ConfTentative, 40, 60),
	}
	f, err := Build(IssueName, matches)
	require.NoError(t, err)

	assert.Equal(t, IssueName, f.Name)
	assert.Equal(t, types.SevHigh, f.Severity)
	assert.Equal(t, types.ConfFirm, f.Confidence)
	assert.Contains(t, f.Detail, "unhandled PHP exceptions occur.<br>")
	assert.NotContains(t, f.Detail, "SQL")
	assert.True(t, strings.HasSuffix(f.Detail, riskSentence))
	assert.Equal(t, []types.Span{{Start: 5, End: 20}, {Start: 40, End: 60}}, f.Evidence)
	assert.Equal(t, []string{"PHP", "SQL"}, f.RuleTypes)
}

func TestBuild_SingleMatch(t *testing.T) {
	f, err := Build(IssueName, []types.Match{m("Perl", types.SevInfo, types.ConfTentative, 0, 12)})
	require.NoError(t, err)
	assert.Equal(t, types.SevInfo, f.Severity)
	assert.Equal(t, types.ConfTentative, f.Confidence)
	assert.Len(t, f.Evidence, 1)
}

func TestBuild_Empty(t *testing.T) {
	f, err := Build(IssueName, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, types.Finding{}, f)
}

func TestBuild_EscapesRuleType(t *testing.T) {
	f, err := Build(IssueName, []types.Match{m(`<script>"x"`, types.SevLow, types.ConfFirm, 0, 1)})
	require.NoError(t, err)
	assert.Contains(t, f.Detail, "&lt;script&gt;&#34;x&#34;")
	assert.NotContains(t, f.Detail, "<script>")
}

func TestBuild_DoesNotAliasInput(t *testing.T) {
	matches := []types.Match{m("Java", types.SevLow, types.ConfFirm, 1, 2)}
	f, err := Build(IssueName, matches)
	require.NoError(t, err)
	matches[0].Span = types.Span{Start: 100, End: 200}
	assert.Equal(t, types.Span{Start: 1, End: 2}, f.Evidence[0])
}

func TestBuildWith_PropagatesAggregatorError(t *testing.T) {
	failing := func([]types.Match) (types.Severity, types.Confidence, error) {
		return 0, 0, ErrInvalidArgument
	}
	_, err := BuildWith(failing, IssueName, []types.Match{m("PHP", 0, 0, 0, 1)})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewBuilder_DefaultName(t *testing.T) {
	assert.Equal(t, IssueName, NewBuilder("  ").IssueName)
	b := NewBuilder("Custom")
	f, err := b.Build([]types.Match{m("Ruby", types.SevLow, types.ConfFirm, 0, 1)})
	require.NoError(t, err)
	assert.Equal(t, "Custom", f.Name)
}

func TestBuild_Concurrent(t *testing.T) {
	matches := []types.Match{
		m("PHP", types.SevMedium, types.ConfFirm, 0, 10),
		m("SQL", types.SevHigh, types.ConfTentative, 20, 30),
	}
	want, err := Build(IssueName, matches)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]types.Finding, 64)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = Build(IssueName, matches)
		}(i)
	}
	wg.Wait()
	for _, got := range results {
		assert.Equal(t, want, got)
	}
}
