// Package update checks GitHub releases for a newer emcheck build.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	semver "github.com/blang/semver/v4"
)

// Repo is the GitHub repository that publishes releases.
const Repo = "redactyl/emcheck"

// DefaultTTL is how long a looked-up release is trusted before asking again.
const DefaultTTL = 24 * time.Hour

const stateFile = "update.json"

// Result describes one check.
type Result struct {
	Current string
	Latest  string
	Newer   bool
	Cached  bool
}

type state struct {
	CheckedAt time.Time `json:"checked_at"`
	Latest    string    `json:"latest"`
}

// Checker looks up the latest release, remembering the answer in Dir for TTL.
type Checker struct {
	URL    string
	Client *http.Client
	Dir    string
	TTL    time.Duration

	now func() time.Time
}

// NewChecker returns a Checker for Repo that keeps its state in the user
// config directory.
func NewChecker() *Checker {
	return &Checker{
		URL:    "https://api.github.com/repos/" + Repo + "/releases/latest",
		Client: &http.Client{Timeout: 2 * time.Second},
		Dir:    stateDir(),
		TTL:    DefaultTTL,
	}
}

func stateDir() string {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, "emcheck")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".config", "emcheck")
	}
	return ""
}

func (c *Checker) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *Checker) readState() state {
	var st state
	if c.Dir == "" {
		return st
	}
	if b, err := os.ReadFile(filepath.Join(c.Dir, stateFile)); err == nil {
		_ = json.Unmarshal(b, &st)
	}
	return st
}

func (c *Checker) writeState(st state) {
	if c.Dir == "" {
		return
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return
	}
	b, _ := json.MarshalIndent(st, "", "  ")
	_ = os.WriteFile(filepath.Join(c.Dir, stateFile), b, 0o644)
}

// Check compares current with the latest release. CI environments are never
// checked. Lookup failures fall back to the remembered release, if any.
func (c *Checker) Check(ctx context.Context, current string) (Result, error) {
	res := Result{Current: trimV(current)}
	if os.Getenv("CI") != "" {
		return res, nil
	}
	st := c.readState()
	ttl := c.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	var lookupErr error
	if st.Latest != "" && c.clock().Sub(st.CheckedAt) < ttl {
		res.Cached = true
	} else if tag, err := c.lookup(ctx); err == nil {
		st = state{CheckedAt: c.clock(), Latest: trimV(tag)}
		c.writeState(st)
	} else {
		lookupErr = err
		res.Cached = st.Latest != ""
	}
	res.Latest = st.Latest
	if res.Latest == "" || res.Current == "" {
		return res, lookupErr
	}
	res.Newer = Compare(res.Latest, res.Current) > 0
	return res, nil
}

func (c *Checker) lookup(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "emcheck-updater")
	req.Header.Set("Accept", "application/vnd.github+json")
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("release lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("release lookup: %s", resp.Status)
	}
	var rel struct {
		TagName string `json:"tag_name"`
		Name    string `json:"name"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&rel); err != nil {
		return "", fmt.Errorf("release lookup: %w", err)
	}
	if rel.TagName != "" {
		return rel.TagName, nil
	}
	if rel.Name != "" {
		return rel.Name, nil
	}
	return "", fmt.Errorf("release lookup: no tag in response")
}

func trimV(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// Compare orders two versions by semver precedence. Versions that do not
// parse sort below any valid version.
func Compare(a, b string) int {
	av, aerr := semver.ParseTolerant(a)
	bv, berr := semver.ParseTolerant(b)
	switch {
	case aerr != nil && berr != nil:
		return 0
	case aerr != nil:
		return -1
	case berr != nil:
		return 1
	}
	return av.Compare(bv)
}
