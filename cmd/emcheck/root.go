package emcheck

import (
	"errors"
	"fmt"
	"os"

	"github.com/redactyl/emcheck/internal/logging"
	"github.com/redactyl/emcheck/internal/report"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagJSON          bool
	flagSARIF         bool
	flagThreads       int
	flagFailOn        string
	flagNoColor       bool
	flagMinSeverity   string
	flagMinConfidence string
	flagDebug         bool
	flagLogJSON       bool
	flagNoUpdateCheck bool
	flagSelfUpdate    bool

	version = "0.1.0"

	logger = zap.NewNop()
)

// rootCmd is the base Cobra command for the emcheck CLI.
var rootCmd = &cobra.Command{
	Use:           "emcheck",
	Short:         "Find detailed error messages in HTTP responses",
	Long:          "emcheck passively inspects HTTP responses (raw dumps, HAR captures or live fetches) for stack traces, database errors and other detailed error messages.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		l, err := logging.New(flagDebug, flagLogJSON)
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		logger = l
		report.ToolVersion = version
		return nil
	},
}

// exitError carries a non-zero exit status without an error message, for
// example when findings reach the --fail-on threshold.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// Execute runs the emcheck CLI. It should be called by the main package.
func Execute() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err == nil {
		return
	}
	var ee exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(2)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "emit JSON")
	rootCmd.PersistentFlags().BoolVar(&flagSARIF, "sarif", false, "emit SARIF 2.1.0")
	rootCmd.PersistentFlags().IntVar(&flagThreads, "threads", 0, "worker count (0 = GOMAXPROCS)")
	rootCmd.PersistentFlags().StringVar(&flagFailOn, "fail-on", "", "fail on info|low|medium|high|none (default medium)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable colorized output")
	rootCmd.PersistentFlags().StringVar(&flagMinSeverity, "min-severity", "", "only report findings with severity >= value (info|low|medium|high)")
	rootCmd.PersistentFlags().StringVar(&flagMinConfidence, "min-confidence", "", "only report findings with confidence >= value (tentative|firm|certain)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "verbose logging to stderr")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "log as JSON lines")
	rootCmd.PersistentFlags().BoolVar(&flagNoUpdateCheck, "no-update-check", false, "disable update check")
	rootCmd.PersistentFlags().BoolVar(&flagSelfUpdate, "self-update", false, "update emcheck to the latest release")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version and check for updates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "emcheck", version)
			if flagSelfUpdate {
				if err := selfUpdate(); err != nil {
					return fmt.Errorf("self-update: %w", err)
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "updated to latest; re-run command")
				return nil
			}
			notifyUpdate(cmd)
			return nil
		},
	})
}
