package emcheck

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	semver3 "github.com/blang/semver"
	semver "github.com/blang/semver/v4"
	"github.com/redactyl/emcheck/internal/cache"
	"github.com/redactyl/emcheck/internal/config"
	"github.com/redactyl/emcheck/internal/rules"
	"github.com/redactyl/emcheck/internal/update"
	"github.com/rhysd/go-github-selfupdate/selfupdate"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func selfUpdate() error {
	v := version
	// Use build info if tag overridden at build-time
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(v) == 0 {
				v = s.Value
			}
		}
	}
	ver, err := semver.ParseTolerant(v)
	if err != nil {
		ver = semver.MustParse("0.0.0")
	}
	latest, err := selfupdate.UpdateSelf(semver3.MustParse(ver.String()), update.Repo)
	if err != nil {
		return err
	}
	logger.Info("self-update complete", zap.String("version", latest.Version.String()))
	return nil
}

// notifyUpdate prints a hint on stderr when a newer release exists. Machine
// readable output modes stay quiet.
func notifyUpdate(cmd *cobra.Command) {
	if flagNoUpdateCheck || flagJSON || flagSARIF {
		return
	}
	res, err := update.NewChecker().Check(cmd.Context(), version)
	if err != nil {
		logger.Debug("update check failed", zap.Error(err))
		return
	}
	if res.Newer {
		fmt.Fprintf(cmd.ErrOrStderr(), "(new version available: v%s)  run 'emcheck version --self-update' to upgrade\n", res.Latest)
	}
}

// loadConfigs returns the local config found in dir and the global config.
// Missing files yield empty configs.
func loadConfigs(dir string) (local, global config.FileConfig) {
	if c, err := config.LoadGlobal(); err == nil {
		global = c
	} else if !errors.Is(err, config.ErrNotFound) {
		logger.Warn("global config ignored", zap.Error(err))
	}
	if c, err := config.LoadLocal(dir); err == nil {
		local = c
	} else if !errors.Is(err, config.ErrNotFound) {
		logger.Warn("local config ignored", zap.Error(err))
	}
	return local, global
}

// ruleSource resolves where rules come from: an explicit file wins over a
// URL, and without either the built-in table is used.
func ruleSource(file, url string) rules.Source {
	switch {
	case file != "":
		return rules.FileSource{Path: file}
	case url != "":
		return rules.HTTPSource{
			URL:       url,
			Retries:   3,
			Backoff:   500 * time.Millisecond,
			UserAgent: "emcheck/" + version,
			Cache:     cache.New(cache.DefaultDir()),
			Logger:    logger,
		}
	default:
		return rules.DefaultSource()
	}
}

// loadRules publishes the first snapshot into store.
func loadRules(ctx context.Context, store *rules.Store, src rules.Source) (*rules.Snapshot, error) {
	snap, err := store.Load(ctx, src)
	if err != nil {
		return nil, err
	}
	logger.Debug("rules ready", zap.String("source", src.String()), zap.Int("rules", snap.Len()))
	return snap, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func pickString(cli string, local, global *string) string {
	if cli != "" {
		return cli
	}
	if local != nil && *local != "" {
		return *local
	}
	if global != nil && *global != "" {
		return *global
	}
	return ""
}

func pickInt(cli int, local, global *int) int {
	if cli != 0 {
		return cli
	}
	if local != nil && *local != 0 {
		return *local
	}
	if global != nil && *global != 0 {
		return *global
	}
	return 0
}

func pickInt64(cli int64, local, global *int64) int64 {
	if cli != 0 {
		return cli
	}
	if local != nil && *local != 0 {
		return *local
	}
	if global != nil && *global != 0 {
		return *global
	}
	return 0
}

func pickFloat(cli float64, local, global *float64) float64 {
	if cli != 0 {
		return cli
	}
	if local != nil && *local != 0 {
		return *local
	}
	if global != nil && *global != 0 {
		return *global
	}
	return 0
}

func pickBool(cli bool, local, global *bool) bool {
	if cli {
		return true
	}
	if local != nil {
		return *local
	}
	if global != nil {
		return *global
	}
	return false
}

func pickDuration(cli time.Duration, local, global *string) time.Duration {
	if cli != 0 {
		return cli
	}
	for _, s := range []*string{local, global} {
		if s == nil {
			continue
		}
		if d, err := time.ParseDuration(*s); err == nil {
			return d
		}
	}
	return 0
}
