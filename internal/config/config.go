package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redactyl/emcheck/internal/types"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no config file exists at the searched places.
var ErrNotFound = errors.New("config not found")

// LocalNames are the project config file names, in lookup order.
var LocalNames = []string{".emcheck.yml", ".emcheck.yaml", "emcheck.yml", "emcheck.yaml"}

// FileConfig is the on-disk YAML configuration shape for emcheck. Nil fields
// are unset and fall through to the next layer.
type FileConfig struct {
	RulesURL      *string  `yaml:"rules_url,omitempty"`
	RulesFile     *string  `yaml:"rules_file,omitempty"`
	IssueName     *string  `yaml:"issue_name,omitempty"`
	Namespace     *string  `yaml:"namespace,omitempty"`
	Threads       *int     `yaml:"threads,omitempty"`
	MaxBytes      *int64   `yaml:"max_bytes,omitempty"`
	MinSeverity   *string  `yaml:"min_severity,omitempty"`
	MinConfidence *string  `yaml:"min_confidence,omitempty"`
	Include       *string  `yaml:"include,omitempty"`
	Exclude       *string  `yaml:"exclude,omitempty"`
	Enable        *string  `yaml:"enable,omitempty"`
	Disable       *string  `yaml:"disable,omitempty"`
	NoColor       *bool    `yaml:"no_color,omitempty"`
	RPS           *float64 `yaml:"rps,omitempty"`
	Timeout       *string  `yaml:"timeout,omitempty"`
	FailOn        *string  `yaml:"fail_on,omitempty"`
	Listen        *string  `yaml:"listen,omitempty"`

	// Watch reloads rules_file on change when serving.
	Watch *bool `yaml:"watch,omitempty"`
}

// LoadFile reads a YAML config file. Unknown keys are rejected so typos do
// not silently fall back to defaults. An empty file is a valid empty config.
func LoadFile(path string) (FileConfig, error) {
	var cfg FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return FileConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return FileConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values that have a closed set of meanings.
func (c FileConfig) Validate() error {
	var errs []error
	if c.MinSeverity != nil {
		if _, err := types.ParseSeverity(*c.MinSeverity); err != nil {
			errs = append(errs, fmt.Errorf("min_severity: %w", err))
		}
	}
	if c.MinConfidence != nil {
		if _, err := types.ParseConfidence(*c.MinConfidence); err != nil {
			errs = append(errs, fmt.Errorf("min_confidence: %w", err))
		}
	}
	if c.FailOn != nil {
		v := strings.ToLower(strings.TrimSpace(*c.FailOn))
		if _, err := types.ParseSeverity(v); err != nil && v != "none" && v != "off" {
			errs = append(errs, fmt.Errorf("fail_on: %w", err))
		}
	}
	if c.Timeout != nil {
		if d, err := time.ParseDuration(*c.Timeout); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("timeout: invalid duration %q", *c.Timeout))
		}
	}
	if c.Threads != nil && *c.Threads < 0 {
		errs = append(errs, errors.New("threads: must not be negative"))
	}
	if c.MaxBytes != nil && *c.MaxBytes < 0 {
		errs = append(errs, errors.New("max_bytes: must not be negative"))
	}
	if c.RPS != nil && *c.RPS < 0 {
		errs = append(errs, errors.New("rps: must not be negative"))
	}
	return errors.Join(errs...)
}

// FindLocal returns the first project config file in root, or "".
func FindLocal(root string) string {
	for _, name := range LocalNames {
		p := filepath.Join(root, name)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

// LoadLocal loads the project config from root.
func LoadLocal(root string) (FileConfig, error) {
	p := FindLocal(root)
	if p == "" {
		return FileConfig{}, fmt.Errorf("local config in %s: %w", root, ErrNotFound)
	}
	return LoadFile(p)
}

// GlobalPath returns the location of the global config file, or "" when no
// config directory can be determined.
func GlobalPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			base = filepath.Join(home, ".config")
		}
	}
	if base == "" {
		return ""
	}
	return filepath.Join(base, "emcheck", "config.yml")
}

// LoadGlobal loads the global config file from the XDG config dir or ~/.config.
func LoadGlobal() (FileConfig, error) {
	p := GlobalPath()
	if p == "" {
		return FileConfig{}, fmt.Errorf("global config: %w", ErrNotFound)
	}
	if _, err := os.Stat(p); err != nil {
		return FileConfig{}, fmt.Errorf("global config %s: %w", p, ErrNotFound)
	}
	return LoadFile(p)
}

const (
	DefaultNamespace     = "EMC_"
	DefaultExtensionName = "Error Message Checks"
)

// Session holds the identity settings of one run. Hosts that persist
// settings prefix their keys with Namespace.
type Session struct {
	Namespace     string
	ExtensionName string
	IssueName     string
}

// NewSession builds a Session from the merged file config, filling defaults.
func NewSession(fc FileConfig, issueName string) Session {
	s := Session{Namespace: DefaultNamespace, ExtensionName: DefaultExtensionName, IssueName: issueName}
	if fc.Namespace != nil && strings.TrimSpace(*fc.Namespace) != "" {
		s.Namespace = strings.TrimSpace(*fc.Namespace)
	}
	if s.IssueName == "" && fc.IssueName != nil {
		s.IssueName = strings.TrimSpace(*fc.IssueName)
	}
	return s
}

// Key returns name qualified by the session namespace.
func (s Session) Key(name string) string { return s.Namespace + name }
