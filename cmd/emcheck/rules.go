package emcheck

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/redactyl/emcheck/internal/cache"
	"github.com/redactyl/emcheck/internal/detectors"
	"github.com/redactyl/emcheck/internal/finding"
	"github.com/redactyl/emcheck/internal/report"
	"github.com/redactyl/emcheck/internal/rules"
	"github.com/redactyl/emcheck/internal/types"
	"github.com/spf13/cobra"
)

func init() {
	rulesCmd := &cobra.Command{Use: "rules", Short: "Inspect, validate and fetch rule tables"}
	rulesCmd.PersistentFlags().StringVar(&flagRulesFile, "rules-file", "", "rule table file (TSV)")
	rulesCmd.PersistentFlags().StringVar(&flagRulesURL, "rules-url", "", "rule table URL ('default' for the upstream table)")
	rootCmd.AddCommand(rulesCmd)

	rulesCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show the loaded rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := loadRules(cmd.Context(), rules.NewStore(logger), rulesFromFlags())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if flagJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"version":  snap.Version,
					"digest":   snap.Digest,
					"source":   snap.Source,
					"types":    snap.Types(),
					"rules":    snap.Rules(),
					"warnings": snap.Warnings,
				})
			}
			report.PrintRules(out, snap)
			return nil
		},
	})

	rulesCmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Validate a rule table and print warnings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			snap, err := rules.Parse(f, args[0])
			out := cmd.OutOrStdout()
			if snap != nil {
				report.PrintWarnings(out, snap.Warnings)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %d rules, %d types, %d warnings\n", args[0], snap.Len(), len(snap.Types()), len(snap.Warnings))
			if len(snap.Warnings) > 0 {
				return exitError{code: 1}
			}
			return nil
		},
	})

	rulesCmd.AddCommand(&cobra.Command{
		Use:   "fetch [url]",
		Short: "Download a rule table into the local cache",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := flagRulesURL
			if len(args) == 1 {
				url = args[0]
			}
			if url == "" || url == "default" {
				url = rules.DefaultRulesURL
			}
			src := rules.HTTPSource{
				URL:       url,
				Retries:   3,
				Backoff:   500 * time.Millisecond,
				UserAgent: "emcheck/" + version,
				Cache:     cache.New(cache.DefaultDir()),
				Logger:    logger,
			}
			rc, err := src.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer rc.Close()
			snap, err := rules.Parse(rc, url)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d rules from %s (digest %s)\n", snap.Len(), url, snap.Digest)
			return nil
		},
	})

	rulesCmd.AddCommand(&cobra.Command{
		Use:   "test <type>",
		Short: "Run the rules of one type against text on stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := loadRules(cmd.Context(), rules.NewStore(logger), rulesFromFlags())
			if err != nil {
				return err
			}
			known := false
			for _, t := range snap.Types() {
				if strings.EqualFold(t, args[0]) {
					known = true
					break
				}
			}
			if !known {
				return fmt.Errorf("unknown rule type %q (available: %s)", args[0], strings.Join(snap.Types(), ", "))
			}
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			ms := detectors.RunType(snap, args[0], data)
			f, err := finding.Build(finding.IssueName, ms)
			if errors.Is(err, finding.ErrInvalidArgument) {
				fmt.Fprintln(cmd.OutOrStdout(), "no match")
				return exitError{code: 1}
			}
			if err != nil {
				return err
			}
			f.URL = "stdin"
			report.PrintTable(cmd.OutOrStdout(), []types.Finding{f}, report.PrintOptions{NoColor: true})
			return nil
		},
	})
}

func rulesFromFlags() rules.Source {
	url := flagRulesURL
	if url == "default" {
		url = rules.DefaultRulesURL
	}
	return ruleSource(flagRulesFile, url)
}
