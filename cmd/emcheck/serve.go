package emcheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redactyl/emcheck/internal/detectors"
	"github.com/redactyl/emcheck/internal/engine"
	"github.com/redactyl/emcheck/internal/metrics"
	"github.com/redactyl/emcheck/internal/rules"
	"github.com/redactyl/emcheck/internal/server"
	"github.com/redactyl/emcheck/internal/watch"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagListen     string
	flagWatch      bool
	flagServeRPS   int
	flagServeBurst int
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scan API over HTTP",
		Long: "Serve POST /v1/scan, /v1/scan/batch and /v1/build for proxies and crawlers that\n" +
			"capture traffic themselves. With --watch the rules file is reloaded when it changes.",
		RunE: runServe,
	}
	rootCmd.AddCommand(cmd)

	cmd.Flags().StringVar(&flagListen, "listen", "", "listen address (default :8080)")
	cmd.Flags().BoolVar(&flagWatch, "watch", false, "reload --rules-file when it changes")
	cmd.Flags().StringVar(&flagRulesFile, "rules-file", "", "rule table file (TSV)")
	cmd.Flags().StringVar(&flagRulesURL, "rules-url", "", "rule table URL ('default' for the upstream table)")
	cmd.Flags().StringVar(&flagIssueName, "issue-name", "", "issue name used for findings")
	cmd.Flags().StringVar(&flagEnable, "enable", "", "only run rules of these types (comma-separated)")
	cmd.Flags().StringVar(&flagDisable, "disable", "", "skip rules of these types (comma-separated)")
	cmd.Flags().IntVar(&flagServeRPS, "rps", 0, "per-client request limit on /v1 routes (0 = off)")
	cmd.Flags().IntVar(&flagServeBurst, "burst", 0, "per-client burst on /v1 routes (default = rps)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cwd, _ := os.Getwd()
	lcfg, gcfg := loadConfigs(cwd)

	minSev, minConf, err := parseFloors(
		pickString(flagMinSeverity, lcfg.MinSeverity, gcfg.MinSeverity),
		pickString(flagMinConfidence, lcfg.MinConfidence, gcfg.MinConfidence),
	)
	if err != nil {
		return err
	}
	sess := session(flagIssueName, lcfg, gcfg)

	rec := metrics.New()
	store := rules.NewStore(logger)
	store.OnSwap = func(s *rules.Snapshot) { rec.SetRules(s.Version, s.Len()) }

	rulesFile := pickString(flagRulesFile, lcfg.RulesFile, gcfg.RulesFile)
	rulesURL := pickString(flagRulesURL, lcfg.RulesURL, gcfg.RulesURL)
	if rulesURL == "default" {
		rulesURL = rules.DefaultRulesURL
	}
	src := ruleSource(rulesFile, rulesURL)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := loadRules(ctx, store, src); err != nil {
		return err
	}

	scanner := engine.New(engine.Config{
		IssueName:     sess.IssueName,
		IncludeGlobs:  pickString("", lcfg.Include, gcfg.Include),
		ExcludeGlobs:  pickString("", lcfg.Exclude, gcfg.Exclude),
		MaxBytes:      pickInt64(0, lcfg.MaxBytes, gcfg.MaxBytes),
		Threads:       pickInt(flagThreads, lcfg.Threads, gcfg.Threads),
		MinSeverity:   minSev,
		MinConfidence: minConf,
	}, engine.Deps{
		Store: store,
		Matcher: &detectors.RegexMatcher{
			Enable:  splitCSV(pickString(flagEnable, lcfg.Enable, gcfg.Enable)),
			Disable: splitCSV(pickString(flagDisable, lcfg.Disable, gcfg.Disable)),
		},
		Logger:  logger,
		Metrics: rec,
	})

	if pickBool(flagWatch, lcfg.Watch, gcfg.Watch) {
		if rulesFile == "" {
			return errors.New("--watch needs --rules-file")
		}
		w, err := watch.New(rulesFile, store, logger)
		if err != nil {
			return fmt.Errorf("watch %s: %w", rulesFile, err)
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("rules watcher stopped", zap.Error(err))
			}
		}()
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.New(server.Options{
		Scanner: scanner,
		Session: sess,
		Metrics: rec,
		Logger:  logger,
		Reload:  src,
		RPS:     flagServeRPS,
		Burst:   flagServeBurst,
	})

	addr := pickString(flagListen, lcfg.Listen, gcfg.Listen)
	if addr == "" {
		addr = ":8080"
	}
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("emcheck listening", zap.String("addr", addr), zap.String("namespace", sess.Namespace))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	return nil
}
