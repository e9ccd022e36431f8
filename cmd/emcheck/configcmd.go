package emcheck

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/redactyl/emcheck/internal/config"
	"github.com/redactyl/emcheck/internal/rules"
	"github.com/redactyl/emcheck/internal/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	cfgPreset        string
	cfgOutput        string
	cfgGlobal        bool
	cfgForce         bool
	cfgRulesURL      string
	cfgEnable        string
	cfgDisable       string
	cfgThreads       int
	cfgMaxBytes      int64
	cfgMinSeverity   string
	cfgMinConfidence string
	cfgFailOn        string
	cfgNoColor       bool
)

func init() {
	cfgCmd := &cobra.Command{Use: "config", Short: "Configuration helpers"}
	rootCmd.AddCommand(cfgCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate an .emcheck.yml with selected rule types and options",
		RunE:  runConfigInit,
	}
	cfgCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&cfgPreset, "preset", "standard", "preset: minimal (high severity stacks only) | standard | strict")
	initCmd.Flags().StringVar(&cfgOutput, "output", ".emcheck.yml", "output file path")
	initCmd.Flags().BoolVar(&cfgGlobal, "global", false, "write the global config instead of a local one")
	initCmd.Flags().BoolVar(&cfgForce, "force", false, "overwrite an existing file")
	initCmd.Flags().StringVar(&cfgRulesURL, "rules-url", "", "rule table URL")
	initCmd.Flags().StringVar(&cfgEnable, "enable", "", "comma-separated rule types to enable (overrides preset if set)")
	initCmd.Flags().StringVar(&cfgDisable, "disable", "", "comma-separated rule types to disable")
	initCmd.Flags().IntVar(&cfgThreads, "threads", 0, "worker threads (0=GOMAXPROCS)")
	initCmd.Flags().Int64Var(&cfgMaxBytes, "max-bytes", 0, "skip bodies larger than this")
	initCmd.Flags().StringVar(&cfgMinSeverity, "min-severity", "", "minimum severity to report")
	initCmd.Flags().StringVar(&cfgMinConfidence, "min-confidence", "", "minimum confidence to report")
	initCmd.Flags().StringVar(&cfgFailOn, "fail-on", "", "severity that fails the scan")
	initCmd.Flags().BoolVar(&cfgNoColor, "no-color", false, "disable color output by default")

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file locations that are searched",
		Run: func(cmd *cobra.Command, _ []string) {
			cwd, _ := os.Getwd()
			fmt.Fprintln(cmd.OutOrStdout(), "local: ", filepath.Join(cwd, ".emcheck.yml"))
			fmt.Fprintln(cmd.OutOrStdout(), "global:", config.GlobalPath())
		},
	})
}

// presetEnable returns the enable list for a preset. Only minimal restricts
// rule types; it keeps the types of the built-in table whose rules include a
// High severity entry.
func presetEnable(preset string) string {
	if strings.ToLower(preset) != "minimal" {
		return ""
	}
	rc, err := rules.DefaultSource().Open(context.Background())
	if err != nil {
		return ""
	}
	defer rc.Close()
	snap, err := rules.Parse(rc, "builtin")
	if err != nil {
		return ""
	}
	seen := map[string]bool{}
	var out []string
	for _, r := range snap.Rules() {
		if r.Severity == types.SevHigh && !seen[r.RuleType] {
			seen[r.RuleType] = true
			out = append(out, r.RuleType)
		}
	}
	return strings.Join(out, ",")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	enable := strings.TrimSpace(cfgEnable)
	if enable == "" {
		enable = presetEnable(cfgPreset)
	}
	minSev := cfgMinSeverity
	failOn := cfgFailOn
	if strings.ToLower(cfgPreset) == "strict" {
		if minSev == "" {
			minSev = "info"
		}
		if failOn == "" {
			failOn = "low"
		}
	}

	fc := config.FileConfig{
		RulesURL:      optStrPtr(cfgRulesURL),
		Enable:        optStrPtr(enable),
		Disable:       optStrPtr(cfgDisable),
		Threads:       intPtr(cfgThreads),
		MaxBytes:      int64Ptr(cfgMaxBytes),
		MinSeverity:   optStrPtr(minSev),
		MinConfidence: optStrPtr(cfgMinConfidence),
		FailOn:        optStrPtr(failOn),
		NoColor:       boolPtr(cfgNoColor),
	}

	out := cfgOutput
	if cfgGlobal {
		out = config.GlobalPath()
		if out == "" {
			return fmt.Errorf("no config directory available")
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return err
		}
	}
	if _, err := os.Stat(out); err == nil && !cfgForce {
		return fmt.Errorf("%s exists (use --force to overwrite)", out)
	}

	b, err := yaml.Marshal(&fc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, b, 0644); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Wrote", out)
	return nil
}

func optStrPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
func intPtr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
func int64Ptr(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
func boolPtr(v bool) *bool { return &v }
