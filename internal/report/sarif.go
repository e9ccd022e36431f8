package report

import (
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/redactyl/emcheck/internal/types"
)

// ToolVersion is reported as the SARIF driver version. The CLI overrides it
// with the build version.
var ToolVersion = "dev"

type sarif struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool       sarifTool      `json:"tool"`
	Results    []sarifResult  `json:"results"`
	Properties map[string]any `json:"properties,omitempty"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version"`
	InformationURI string      `json:"informationUri,omitempty"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	ShortDescription sarifMessage `json:"shortDescription"`
}

type sarifResult struct {
	RuleID     string         `json:"ruleId"`
	RuleIndex  int            `json:"ruleIndex"`
	Level      string         `json:"level"`
	Message    sarifMessage   `json:"message"`
	Locations  []sarifLoc     `json:"locations"`
	Properties map[string]any `json:"properties,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLoc struct {
	PhysicalLocation sarifPhys `json:"physicalLocation"`
}

type sarifPhys struct {
	ArtifactLocation sarifArt    `json:"artifactLocation"`
	Region           sarifRegion `json:"region"`
}

type sarifArt struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	ByteOffset int           `json:"byteOffset"`
	ByteLength int           `json:"byteLength"`
	Snippet    *sarifMessage `json:"snippet,omitempty"`
}

func sevToLevel(s types.Severity) string {
	switch s {
	case types.SevHigh:
		return "error"
	case types.SevMedium:
		return "warning"
	default:
		return "note"
	}
}

// ruleID names the SARIF rule after the platform the detail text names.
func ruleID(f types.Finding) string {
	t := "generic"
	if len(f.RuleTypes) > 0 {
		t = strings.ToLower(strings.ReplaceAll(f.RuleTypes[0], " ", "-"))
	}
	return "error-message/" + t
}

// WriteSARIF writes findings as SARIF 2.1.0 to the provided writer.
func WriteSARIF(w io.Writer, findings []types.Finding) error {
	return WriteSARIFWithStats(w, findings, nil)
}

// WriteSARIFWithStats is WriteSARIF with scan statistics attached to the run
// properties.
func WriteSARIFWithStats(w io.Writer, findings []types.Finding, stats map[string]int) error {
	index := map[string]int{}
	var ids []string
	names := map[string]string{}
	for _, f := range findings {
		id := ruleID(f)
		if _, ok := names[id]; !ok {
			ids = append(ids, id)
			names[id] = f.Name
		}
	}
	sort.Strings(ids)
	run := sarifRun{
		Tool: sarifTool{Driver: sarifDriver{
			Name:           "emcheck",
			Version:        ToolVersion,
			InformationURI: "https://github.com/redactyl/emcheck",
			Rules:          []sarifRule{},
		}},
		Results: []sarifResult{},
	}
	for i, id := range ids {
		index[id] = i
		run.Tool.Driver.Rules = append(run.Tool.Driver.Rules, sarifRule{
			ID:               id,
			Name:             names[id],
			ShortDescription: sarifMessage{Text: names[id]},
		})
	}
	for _, f := range findings {
		id := ruleID(f)
		res := sarifResult{
			RuleID:    id,
			RuleIndex: index[id],
			Level:     sevToLevel(f.Severity),
			Message:   sarifMessage{Text: f.Detail},
			Properties: map[string]any{
				"confidence": f.Confidence.String(),
				"severity":   f.Severity.String(),
				"ruleTypes":  f.RuleTypes,
			},
		}
		for i, sp := range f.Evidence {
			region := sarifRegion{ByteOffset: sp.Start, ByteLength: sp.End - sp.Start}
			if i == 0 && f.Excerpt != "" {
				region.Snippet = &sarifMessage{Text: f.Excerpt}
			}
			res.Locations = append(res.Locations, sarifLoc{PhysicalLocation: sarifPhys{
				ArtifactLocation: sarifArt{URI: f.URL},
				Region:           region,
			}})
		}
		run.Results = append(run.Results, res)
	}
	if len(stats) > 0 {
		run.Properties = map[string]any{"scanStats": stats}
	}
	doc := sarif{
		Schema:  "https://json.schemastore.org/sarif-2.1.0.json",
		Version: "2.1.0",
		Runs:    []sarifRun{run},
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
