package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityOrder(t *testing.T) {
	assert.Less(t, SevInfo.Rank(), SevLow.Rank())
	assert.Less(t, SevLow.Rank(), SevMedium.Rank())
	assert.Less(t, SevMedium.Rank(), SevHigh.Rank())
	assert.Equal(t, 0, Severity(0).Rank())
	assert.Equal(t, 0, Severity(42).Rank())
}

func TestConfidenceOrder(t *testing.T) {
	assert.Less(t, ConfTentative.Rank(), ConfFirm.Rank())
	assert.Less(t, ConfFirm.Rank(), ConfCertain.Rank())
	assert.Equal(t, 0, Confidence(-1).Rank())
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in      string
		want    Severity
		wantErr bool
	}{
		{in: "High", want: SevHigh},
		{in: "medium", want: SevMedium},
		{in: " LOW ", want: SevLow},
		{in: "Information", want: SevInfo},
		{in: "info", want: SevInfo},
		{in: "", want: 0},
		{in: "Critical", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSeverity(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedRating)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseConfidence(t *testing.T) {
	got, err := ParseConfidence("Certain")
	require.NoError(t, err)
	assert.Equal(t, ConfCertain, got)

	got, err = ParseConfidence("firm")
	require.NoError(t, err)
	assert.Equal(t, ConfFirm, got)

	_, err = ParseConfidence("sure")
	assert.ErrorIs(t, err, ErrMalformedRating)
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "High", SevHigh.String())
	assert.Equal(t, "Information", SevInfo.String())
	assert.Equal(t, "Tentative", ConfTentative.String())
	assert.Equal(t, "", Severity(0).String())
	assert.Equal(t, "", Confidence(9).String())
}

func TestFindingJSONUsesLabels(t *testing.T) {
	f := Finding{Name: "n", Severity: SevMedium, Confidence: ConfFirm, Evidence: []Span{{Start: 1, End: 4}}}
	b, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"severity":"Medium"`)
	assert.Contains(t, string(b), `"confidence":"Firm"`)

	var back Finding
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, f, back)
}

func TestSpanValid(t *testing.T) {
	assert.True(t, Span{Start: 0, End: 0}.Valid())
	assert.True(t, Span{Start: 3, End: 9}.Valid())
	assert.False(t, Span{Start: 5, End: 2}.Valid())
	assert.False(t, Span{Start: -1, End: 2}.Valid())
}
