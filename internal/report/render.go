package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"github.com/redactyl/emcheck/internal/types"
	"golang.org/x/term"
)

type PrintOptions struct {
	NoColor      bool
	Duration     time.Duration
	Transactions int
	Skipped      int
	RulesVersion uint64
}

var (
	highStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mediumStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	lowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
)

// ColorEnabled reports whether w is a terminal that should receive colour.
func ColorEnabled(w io.Writer, noColor bool) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// SortFindings orders findings by severity, highest first, then by URL.
func SortFindings(findings []types.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Severity.Rank() != findings[j].Severity.Rank() {
			return findings[i].Severity.Rank() > findings[j].Severity.Rank()
		}
		return findings[i].URL < findings[j].URL
	})
}

// PrintText writes one line per finding.
func PrintText(w io.Writer, findings []types.Finding, opts PrintOptions) {
	SortFindings(findings)
	if len(findings) == 0 {
		fmt.Fprintln(w, "No error messages found ✅")
	} else {
		fmt.Fprintf(w, "Findings: %d\n", len(findings))
		for _, f := range findings {
			fmt.Fprintf(w, "%-11s %-9s %-22s %s  %s\n",
				colorSeverity(f.Severity, opts.NoColor), f.Confidence, strings.Join(f.RuleTypes, ","), f.URL, snippet(f.Excerpt))
		}
	}
	printFooter(w, findings, opts)
}

// PrintTable writes findings as a bordered table.
func PrintTable(w io.Writer, findings []types.Finding, opts PrintOptions) {
	SortFindings(findings)
	if len(findings) == 0 {
		fmt.Fprintln(w, "No error messages found ✅")
	} else {
		table := tablewriter.NewWriter(w)
		table.Header("SEVERITY", "CONFIDENCE", "TYPES", "URL", "EVIDENCE", "EXCERPT")
		for _, f := range findings {
			_ = table.Append([]string{
				colorSeverity(f.Severity, opts.NoColor),
				f.Confidence.String(),
				strings.Join(f.RuleTypes, ", "),
				f.URL,
				spans(f.Evidence),
				snippet(f.Excerpt),
			})
		}
		_ = table.Render()
	}
	printFooter(w, findings, opts)
}

func printFooter(w io.Writer, findings []types.Finding, opts PrintOptions) {
	if opts.Duration <= 0 && opts.Transactions <= 0 {
		return
	}
	counts := map[types.Severity]int{}
	for _, f := range findings {
		counts[f.Severity]++
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Findings: %d (high: %d, medium: %d, low: %d, info: %d)\n",
		len(findings), counts[types.SevHigh], counts[types.SevMedium], counts[types.SevLow], counts[types.SevInfo])
	if opts.Duration > 0 {
		fmt.Fprintf(w, "Scan duration: %.2fs\n", opts.Duration.Seconds())
	}
	if opts.Transactions > 0 {
		fmt.Fprintf(w, "Responses scanned: %d (skipped: %d)\n", opts.Transactions, opts.Skipped)
	}
	if opts.RulesVersion > 0 {
		fmt.Fprintf(w, "Rules version: %d\n", opts.RulesVersion)
	}
}

func spans(ev []types.Span) string {
	parts := make([]string, 0, len(ev))
	for i, s := range ev {
		if i == 3 {
			parts = append(parts, "+"+strconv.Itoa(len(ev)-3))
			break
		}
		parts = append(parts, strconv.Itoa(s.Start)+"-"+strconv.Itoa(s.End))
	}
	return strings.Join(parts, " ")
}

// snippet flattens whitespace and shortens long excerpts for one-line display.
func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= 60 {
		return s
	}
	return string(r[:57]) + "…"
}

func colorSeverity(s types.Severity, noColor bool) string {
	label := strings.ToLower(s.String())
	if noColor {
		return label
	}
	switch s {
	case types.SevHigh:
		return highStyle.Render(label)
	case types.SevMedium:
		return mediumStyle.Render(label)
	case types.SevLow:
		return lowStyle.Render(label)
	default:
		return infoStyle.Render(label)
	}
}
