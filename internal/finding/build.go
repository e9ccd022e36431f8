package finding

import (
	"fmt"
	"html"
	"strings"

	"github.com/redactyl/emcheck/internal/types"
)

// IssueName identifies the check in reports.
const IssueName = "Detailed Error Messages Revealed"

const riskSentence = "Detailed technical error messages can allow an adversary to gain information about the application and database that could be used to conduct further attacks."

// FindingBuilder turns the matches of one transaction into a Finding.
type FindingBuilder func(issueName string, matches []types.Match) (types.Finding, error)

// Build assembles a Finding from matches. The detail text names only the
// rule type of the first match, in the order supplied by the matcher.
func Build(issueName string, matches []types.Match) (types.Finding, error) {
	return BuildWith(Aggregate, issueName, matches)
}

// BuildWith is Build with an explicit aggregator.
func BuildWith(agg Aggregator, issueName string, matches []types.Match) (types.Finding, error) {
	if len(matches) == 0 {
		return types.Finding{}, errEmpty("build")
	}
	sev, conf, err := agg(matches)
	if err != nil {
		return types.Finding{}, err
	}
	evidence := make([]types.Span, len(matches))
	for i, m := range matches {
		evidence[i] = m.Span
	}
	return types.Finding{
		Name:       issueName,
		Detail:     Detail(matches[0].RuleType),
		Severity:   sev,
		Confidence: conf,
		Evidence:   evidence,
		RuleTypes:  distinctTypes(matches),
		Excerpt:    matches[0].Text,
	}, nil
}

// Detail renders the HTML detail text for a rule type.
func Detail(ruleType string) string {
	var b strings.Builder
	b.Grow(256)
	b.WriteString("The application displays detailed error messages when unhandled ")
	b.WriteString(html.EscapeString(ruleType))
	b.WriteString(" exceptions occur.<br>")
	b.WriteString(riskSentence)
	return b.String()
}

// Builder carries the issue name of a scan session so callers can build
// findings without repeating it.
type Builder struct {
	IssueName string
}

// NewBuilder returns a Builder for name, falling back to IssueName.
func NewBuilder(name string) Builder {
	if strings.TrimSpace(name) == "" {
		name = IssueName
	}
	return Builder{IssueName: name}
}

// Build builds a finding for matches under the Builder's issue name.
func (b Builder) Build(matches []types.Match) (types.Finding, error) {
	return Build(b.IssueName, matches)
}

func distinctTypes(matches []types.Match) []string {
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if m.RuleType == "" || seen[m.RuleType] {
			continue
		}
		seen[m.RuleType] = true
		out = append(out, m.RuleType)
	}
	return out
}

func errEmpty(op string) error {
	return fmt.Errorf("%s: empty match list: %w", op, ErrInvalidArgument)
}
