package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// MarshalFindings writes findings as an indented JSON array. A nil slice is
// written as [] so consumers never see null.
func MarshalFindings(w io.Writer, findings []Finding) error {
	if findings == nil {
		findings = []Finding{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(findings)
}

// UnmarshalFindings reads either a bare JSON array of findings or the
// object emitted by `emcheck scan --json`, which carries them under
// "findings".
func UnmarshalFindings(r io.Reader) ([]Finding, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("decode findings: empty input")
	}
	var fs []Finding
	if raw[0] == '{' {
		var env struct {
			Findings []Finding `json:"findings"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("decode findings: %w", err)
		}
		fs = env.Findings
	} else if err := json.Unmarshal(raw, &fs); err != nil {
		return nil, fmt.Errorf("decode findings: %w", err)
	}
	for i, f := range fs {
		if !f.Severity.Valid() || !f.Confidence.Valid() {
			return nil, fmt.Errorf("decode findings: finding %d has no valid rating", i)
		}
	}
	return fs, nil
}
