package core

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanAll_Smoke(t *testing.T) {
	txs := []Transaction{
		{URL: "https://x/a", Body: []byte("<b>Fatal error</b>: oops")},
		{URL: "https://x/b", Body: []byte("fine")},
	}
	res, err := ScanAll(context.Background(), Config{}, txs)
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, IssueName, res.Findings[0].Name)
	assert.Equal(t, "https://x/a", res.Findings[0].URL)
	assert.Equal(t, 2, res.Transactions)
}

func TestAggregateAndBuild(t *testing.T) {
	ms := []Match{
		{RuleType: "PHP", Severity: SevMedium, Confidence: ConfFirm, Span: Span{Start: 0, End: 3}},
		{RuleType: "SQL", Severity: SevHigh, Confidence: ConfTentative, Span: Span{Start: 5, End: 9}},
	}
	sev, conf, err := Aggregate(ms)
	require.NoError(t, err)
	assert.Equal(t, SevHigh, sev)
	assert.Equal(t, ConfFirm, conf)

	f, err := Build(IssueName, ms)
	require.NoError(t, err)
	assert.Contains(t, f.Detail, "PHP")

	_, err = Build(IssueName, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRuleTypes(t *testing.T) {
	types := RuleTypes()
	assert.Contains(t, types, "PHP")
	assert.Contains(t, types, "Java")
}

func TestFindingsJSONRoundTrip(t *testing.T) {
	in := []Finding{{Name: IssueName, Severity: SevLow, Confidence: ConfCertain, Evidence: []Span{{Start: 1, End: 2}}}}
	var buf bytes.Buffer
	require.NoError(t, MarshalFindings(&buf, in))
	out, err := UnmarshalFindings(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestUnmarshalFindings_EnvelopeAndErrors(t *testing.T) {
	env := `{"tool":"emcheck","findings":[{"name":"x","detail":"d","severity":"High","confidence":"Firm","evidence":[]}]}`
	out, err := UnmarshalFindings(strings.NewReader(env))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, SevHigh, out[0].Severity)

	_, err = UnmarshalFindings(strings.NewReader("  "))
	assert.Error(t, err)
	_, err = UnmarshalFindings(strings.NewReader(`[{"name":"x"}]`))
	assert.Error(t, err, "findings without ratings are rejected")
}

func TestMarshalFindings_NilIsEmptyArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, MarshalFindings(&buf, nil))
	assert.Equal(t, "[]", strings.TrimSpace(buf.String()))
}

func TestReadResponseFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "err.http")
	raw := "HTTP/1.1 500 Internal Server Error\r\nContent-Type: text/html\r\n\r\n<b>Fatal error</b>: Call to undefined function foo()"
	require.NoError(t, os.WriteFile(p, []byte(raw), 0o644))

	tx, err := ReadResponseFile(p)
	require.NoError(t, err)
	assert.Equal(t, 500, tx.Status)

	sc, err := NewScanner(context.Background(), Config{})
	require.NoError(t, err)
	f, err := sc.ScanTransaction(context.Background(), tx)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Contains(t, f.RuleTypes, "PHP")
}
