package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/redactyl/emcheck/internal/rules"
)

func TestPrintRules(t *testing.T) {
	snap, err := rules.ParseBytes([]byte("Fatal error:\tPHP\tMedium\tFirm\nbroken line\nSQL syntax\tSQL\n"), "test")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	PrintRules(&buf, snap)
	out := buf.String()
	for _, want := range []string{"PHP", "SQL", "Medium", "Firm", "2 rules, 2 types", "Warnings: 1", "line 2:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestPrintWarnings_None(t *testing.T) {
	var buf bytes.Buffer
	PrintWarnings(&buf, nil)
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}
