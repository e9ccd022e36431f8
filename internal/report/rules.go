package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/redactyl/emcheck/internal/rules"
)

// PrintRules writes the rules of snap as a table followed by any parse
// warnings.
func PrintRules(w io.Writer, snap *rules.Snapshot) {
	table := tablewriter.NewWriter(w)
	table.Header("LINE", "TYPE", "SEVERITY", "CONFIDENCE", "PATTERN")
	for _, r := range snap.Rules() {
		_ = table.Append([]string{
			strconv.Itoa(r.Line),
			r.RuleType,
			r.Severity.String(),
			r.Confidence.String(),
			snippet(r.Pattern),
		})
	}
	_ = table.Render()
	fmt.Fprintf(w, "\n%d rules, %d types, version %d, digest %s (%s)\n",
		snap.Len(), len(snap.Types()), snap.Version, snap.Digest, snap.Source)
	PrintWarnings(w, snap.Warnings)
}

// PrintWarnings lists table lines that were skipped or partially understood.
func PrintWarnings(w io.Writer, warns []rules.Warning) {
	if len(warns) == 0 {
		return
	}
	fmt.Fprintf(w, "Warnings: %d\n", len(warns))
	for _, wn := range warns {
		fmt.Fprintf(w, "  %s\n", wn)
	}
}
