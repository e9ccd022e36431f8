package report

import (
	"encoding/json"
	"io"

	"github.com/redactyl/emcheck/internal/types"
)

// Envelope is the JSON report shape shared by the CLI and the HTTP API.
type Envelope struct {
	SchemaVersion string          `json:"schema_version"`
	Tool          string          `json:"tool"`
	Version       string          `json:"version"`
	RulesVersion  uint64          `json:"rules_version,omitempty"`
	RulesDigest   string          `json:"rules_digest,omitempty"`
	Transactions  int             `json:"transactions"`
	Skipped       int             `json:"skipped"`
	DurationMS    int64           `json:"duration_ms"`
	Findings      []types.Finding `json:"findings"`
}

// WriteJSON encodes env with stable indentation. A nil findings slice is
// written as an empty array.
func WriteJSON(w io.Writer, env Envelope) error {
	if env.SchemaVersion == "" {
		env.SchemaVersion = "1"
	}
	if env.Tool == "" {
		env.Tool = "emcheck"
	}
	if env.Version == "" {
		env.Version = ToolVersion
	}
	if env.Findings == nil {
		env.Findings = []types.Finding{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(env)
}
