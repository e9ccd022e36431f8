package emcheck

import (
	"fmt"

	"github.com/redactyl/emcheck/internal/report"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Manage baselines",
	}

	update := &cobra.Command{
		Use:   "update [path|url...]",
		Short: "Update baseline from current scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := executeScan(cmd, args, false)
			if err != nil {
				return err
			}
			if err := report.SaveBaseline(flagBaseline, run.res.Findings, run.snap.Digest); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Baseline updated (%d findings).\n", len(run.res.Findings))
			return nil
		},
	}
	update.Flags().StringVarP(&flagFiles, "file", "f", "", "comma-separated globs of raw response dumps (supports **)")
	update.Flags().StringVar(&flagHAR, "har", "", "comma-separated HAR files")
	update.Flags().StringVar(&flagRulesFile, "rules-file", "", "rule table file (TSV)")
	update.Flags().StringVar(&flagRulesURL, "rules-url", "", "rule table URL ('default' for the upstream table)")
	update.Flags().StringVar(&flagBaseline, "baseline", defaultBaselineFile, "baseline file to write")

	rootCmd.AddCommand(cmd)
	cmd.AddCommand(update)
}
