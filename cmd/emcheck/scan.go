package emcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/redactyl/emcheck/internal/audit"
	"github.com/redactyl/emcheck/internal/cache"
	"github.com/redactyl/emcheck/internal/config"
	"github.com/redactyl/emcheck/internal/detectors"
	"github.com/redactyl/emcheck/internal/engine"
	"github.com/redactyl/emcheck/internal/report"
	"github.com/redactyl/emcheck/internal/rules"
	"github.com/redactyl/emcheck/internal/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultBaselineFile = "emcheck.baseline.json"

var (
	flagFiles      string
	flagHAR        string
	flagInclude    string
	flagExclude    string
	flagMaxBytes   int64
	flagEnable     string
	flagDisable    string
	flagRulesFile  string
	flagRulesURL   string
	flagIssueName  string
	flagRPS        float64
	flagTimeout    time.Duration
	flagUserAgent  string
	flagTable      bool
	flagText       bool
	flagBaseline   string
	flagNoAudit    bool
	flagAuditDir   string
	flagMaxPerRule int
)

func init() {
	cmd := &cobra.Command{
		Use:   "scan [path|url...]",
		Short: "Scan HTTP responses for detailed error messages",
		Long: "Scan raw response dumps (.http/.resp/.txt), HAR captures (.har) and live URLs.\n" +
			"Arguments starting with http:// or https:// are fetched; everything else is read from disk.",
		RunE: runScan,
	}
	rootCmd.AddCommand(cmd)

	cmd.Flags().StringVarP(&flagFiles, "file", "f", "", "comma-separated globs of raw response dumps (supports **)")
	cmd.Flags().StringVar(&flagHAR, "har", "", "comma-separated HAR files")
	cmd.Flags().StringVar(&flagInclude, "include", "", "comma-separated URL path include globs")
	cmd.Flags().StringVar(&flagExclude, "exclude", "", "comma-separated URL path exclude globs")
	cmd.Flags().Int64Var(&flagMaxBytes, "max-bytes", 0, "skip bodies larger than this (default 4 MiB)")
	cmd.Flags().StringVar(&flagEnable, "enable", "", "only run rules of these types (comma-separated)")
	cmd.Flags().StringVar(&flagDisable, "disable", "", "skip rules of these types (comma-separated)")
	cmd.Flags().IntVar(&flagMaxPerRule, "max-per-rule", 0, "cap matches per rule and body (default 10, -1 = unlimited)")
	cmd.Flags().StringVar(&flagRulesFile, "rules-file", "", "rule table file (TSV)")
	cmd.Flags().StringVar(&flagRulesURL, "rules-url", "", "fetch the rule table from this URL ('default' for the upstream table)")
	cmd.Flags().StringVar(&flagIssueName, "issue-name", "", "issue name used for findings")
	cmd.Flags().Float64Var(&flagRPS, "rps", 0, "max requests per second for URL fetches (default 5)")
	cmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "per-request timeout for URL fetches (default 15s)")
	cmd.Flags().StringVar(&flagUserAgent, "user-agent", "", "User-Agent for URL fetches")
	cmd.Flags().BoolVar(&flagTable, "table", false, "output in table format with borders (default)")
	cmd.Flags().BoolVar(&flagText, "text", false, "output in plain text columnar format")
	cmd.Flags().StringVar(&flagBaseline, "baseline", defaultBaselineFile, "baseline file; findings recorded there are not reported")
	cmd.Flags().BoolVar(&flagNoAudit, "no-audit", false, "do not append this scan to the audit log")
	cmd.Flags().StringVar(&flagAuditDir, "audit-dir", "", "directory for the audit log (default user cache dir)")
}

// scanInputs splits positional arguments into live URLs and local paths and
// expands the --file and --har lists.
type scanInputs struct {
	urls  []string
	paths []string
}

func collectInputs(args []string) (scanInputs, error) {
	var in scanInputs
	for _, a := range args {
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			in.urls = append(in.urls, a)
			continue
		}
		in.paths = append(in.paths, a)
	}
	for _, g := range splitCSV(flagFiles) {
		matches, err := doublestar.FilepathGlob(g, doublestar.WithFilesOnly())
		if err != nil {
			return in, fmt.Errorf("bad --file glob %q: %w", g, err)
		}
		in.paths = append(in.paths, matches...)
	}
	in.paths = append(in.paths, splitCSV(flagHAR)...)
	if len(in.urls) == 0 && len(in.paths) == 0 && flagFiles == "" {
		in.paths = []string{"."}
	}
	return in, nil
}

func parseFloors(sev, conf string) (types.Severity, types.Confidence, error) {
	s, err := types.ParseSeverity(sev)
	if err != nil {
		return 0, 0, fmt.Errorf("--min-severity: %w", err)
	}
	c, err := types.ParseConfidence(conf)
	if err != nil {
		return 0, 0, fmt.Errorf("--min-confidence: %w", err)
	}
	return s, c, nil
}

// session merges the identity settings of local and global config.
func session(issueName string, lcfg, gcfg config.FileConfig) config.Session {
	ns := pickString("", lcfg.Namespace, gcfg.Namespace)
	name := pickString(issueName, lcfg.IssueName, gcfg.IssueName)
	return config.NewSession(config.FileConfig{Namespace: &ns}, name)
}

// scanRun is the outcome of collecting and scanning the inputs of one
// command invocation.
type scanRun struct {
	res     engine.Result
	snap    *rules.Snapshot
	in      scanInputs
	matcher *detectors.RegexMatcher
	lcfg    config.FileConfig
	gcfg    config.FileConfig
}

// executeScan loads rules and config, gathers transactions from args and
// scans them. Progress goes to stderr when verbose is set.
func executeScan(cmd *cobra.Command, args []string, verbose bool) (scanRun, error) {
	var run scanRun
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	errOut := cmd.ErrOrStderr()

	cwd, _ := os.Getwd()
	lcfg, gcfg := loadConfigs(cwd)
	run.lcfg, run.gcfg = lcfg, gcfg

	minSev, minConf, err := parseFloors(
		pickString(flagMinSeverity, lcfg.MinSeverity, gcfg.MinSeverity),
		pickString(flagMinConfidence, lcfg.MinConfidence, gcfg.MinConfidence),
	)
	if err != nil {
		return run, err
	}
	sess := session(flagIssueName, lcfg, gcfg)

	rulesURL := pickString(flagRulesURL, lcfg.RulesURL, gcfg.RulesURL)
	if rulesURL == "default" {
		rulesURL = rules.DefaultRulesURL
	}
	store := rules.NewStore(logger)
	run.snap, err = loadRules(ctx, store, ruleSource(pickString(flagRulesFile, lcfg.RulesFile, gcfg.RulesFile), rulesURL))
	if err != nil {
		return run, err
	}

	run.in, err = collectInputs(args)
	if err != nil {
		return run, err
	}
	maxBytes := pickInt64(flagMaxBytes, lcfg.MaxBytes, gcfg.MaxBytes)
	threads := pickInt(flagThreads, lcfg.Threads, gcfg.Threads)

	if verbose && len(run.in.paths) > 0 {
		files := 0
		for _, p := range run.in.paths {
			if n, err := engine.CountTargets(p); err == nil {
				files += n
			}
		}
		fmt.Fprintf(errOut, "Reading %d dump files...\n", files)
	}

	var txs []engine.Transaction
	for _, p := range run.in.paths {
		err := engine.Walk(ctx, p, logger, func(tx engine.Transaction) { txs = append(txs, tx) })
		if err != nil {
			return run, fmt.Errorf("read %s: %w", p, err)
		}
	}
	if len(run.in.urls) > 0 {
		fetched, err := engine.Fetch(ctx, run.in.urls, engine.FetchOptions{
			RPS:       pickFloat(flagRPS, lcfg.RPS, gcfg.RPS),
			Timeout:   pickDuration(flagTimeout, lcfg.Timeout, gcfg.Timeout),
			Threads:   threads,
			MaxBytes:  maxBytes,
			UserAgent: flagUserAgent,
			Logger:    logger,
		})
		if err != nil {
			return run, fmt.Errorf("fetch: %w", err)
		}
		txs = append(txs, fetched...)
	}

	if verbose {
		fmt.Fprintf(errOut, "Scanning %d responses with %d rules...\n", len(txs), run.snap.Len())
	}

	cfg := engine.Config{
		IssueName:     sess.IssueName,
		IncludeGlobs:  pickString(flagInclude, lcfg.Include, gcfg.Include),
		ExcludeGlobs:  pickString(flagExclude, lcfg.Exclude, gcfg.Exclude),
		MaxBytes:      maxBytes,
		Threads:       threads,
		MinSeverity:   minSev,
		MinConfidence: minConf,
	}
	total := len(txs)
	if total > 0 && verbose {
		var done atomic.Int64
		cfg.Progress = func() {
			n := done.Add(1)
			if n%10 == 0 || int(n) == total {
				fmt.Fprintf(errOut, "\r[%d/%d] %.0f%%", n, total, float64(n)/float64(total)*100)
			}
		}
	}
	run.matcher = &detectors.RegexMatcher{
		MaxPerRule: flagMaxPerRule,
		Enable:     splitCSV(pickString(flagEnable, lcfg.Enable, gcfg.Enable)),
		Disable:    splitCSV(pickString(flagDisable, lcfg.Disable, gcfg.Disable)),
	}
	scanner := engine.New(cfg, engine.Deps{Store: store, Matcher: run.matcher, Logger: logger})

	run.res, err = scanner.ScanAll(ctx, txs)
	if err != nil {
		return run, fmt.Errorf("scan error: %w", err)
	}
	if total > 0 && verbose {
		fmt.Fprintln(errOut)
	}
	return run, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	machine := flagJSON || flagSARIF

	if flagSelfUpdate {
		if err := selfUpdate(); err == nil {
			fmt.Fprintln(errOut, "updated to latest; re-run command")
			return nil
		}
	}
	if !machine {
		notifyUpdate(cmd)
	}

	run, err := executeScan(cmd, args, !machine)
	if err != nil {
		return err
	}
	res := run.res

	baseline, err := report.LoadBaseline(flagBaseline)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("baseline ignored", zap.Error(err))
	}
	newFindings := baseline.Filter(res.Findings)

	if err := writeReport(out, res, run.snap, newFindings); err != nil {
		return err
	}

	if !flagNoAudit {
		rec := audit.NewRecord(audit.Input{
			Target:       strings.Join(append(run.in.paths, run.in.urls...), ","),
			All:          res.Findings,
			New:          newFindings,
			Transactions: res.Transactions,
			Skipped:      res.Skipped,
			RulesVersion: res.RulesVersion,
			RulesDigest:  run.snap.Digest,
			Duration:     res.Duration,
			BaselineFile: flagBaseline,
		})
		if err := auditLog().Append(rec); err != nil {
			logger.Warn("audit log not written", zap.Error(err))
		}
	}

	if cmd.Flags().Changed("enable") || cmd.Flags().Changed("disable") {
		fmt.Fprintf(errOut, "rule types active: %s\n", activeTypes(run.snap, run.matcher))
	}

	if report.ShouldFail(newFindings, pickString(flagFailOn, run.lcfg.FailOn, run.gcfg.FailOn)) {
		return exitError{code: 1}
	}
	return nil
}

func auditLog() *audit.Log {
	dir := flagAuditDir
	if dir == "" {
		dir = cache.DefaultDir()
	}
	return audit.Open(dir)
}

func writeReport(out io.Writer, res engine.Result, snap *rules.Snapshot, findings []types.Finding) error {
	switch {
	case flagSARIF:
		stats := map[string]int{
			"transactions":   res.Transactions,
			"skipped":        res.Skipped,
			"findings_total": len(res.Findings),
		}
		if err := report.WriteSARIFWithStats(out, findings, stats); err != nil {
			return fmt.Errorf("sarif error: %w", err)
		}
	case flagJSON:
		return report.WriteJSON(out, report.Envelope{
			RulesVersion: res.RulesVersion,
			RulesDigest:  snap.Digest,
			Transactions: res.Transactions,
			Skipped:      res.Skipped,
			DurationMS:   res.Duration.Milliseconds(),
			Findings:     findings,
		})
	default:
		opts := report.PrintOptions{
			NoColor:      !report.ColorEnabled(out, flagNoColor),
			Duration:     res.Duration,
			Transactions: res.Transactions,
			Skipped:      res.Skipped,
			RulesVersion: res.RulesVersion,
		}
		if flagText {
			report.PrintText(out, findings, opts)
		} else {
			report.PrintTable(out, findings, opts)
		}
	}
	return nil
}

func activeTypes(snap *rules.Snapshot, m *detectors.RegexMatcher) string {
	var kept []string
	for _, t := range snap.Types() {
		if m.Allows(t) {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, ",")
}
