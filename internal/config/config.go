// Package config loads and validates the optional .conveyor YAML file.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the configuration file.
const FileName = ".conveyor"

// Default values for runner and registry configuration.
const (
	DefaultTimeout          = 10 * time.Minute
	DefaultGracePeriod      = 5 * time.Second
	DefaultMaxOutput        = 1 << 20 // 1 MB
	DefaultHistoryCapacity  = 50
	DefaultHistoryRetention = time.Hour
	DefaultSweepInterval    = time.Minute
	DefaultListen           = "127.0.0.1:8080"
	DefaultWorkflowDir      = ".github/workflows"
	DefaultShell            = "bash"
)

// Config holds the parsed .conveyor configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version          int            `yaml:"version"`
	RawTimeout       string         `yaml:"timeout"`      // e.g. "10m", "30s"
	RawGracePeriod   string         `yaml:"grace_period"` // SIGTERM to SIGKILL
	RawMaxOutput     int            `yaml:"max_output"`   // bytes
	Listen           string         `yaml:"listen"`
	ProjectsRoot     string         `yaml:"projects_root"`
	AllowedOrigins   []string       `yaml:"allowed_origins"`
	History          HistoryConfig  `yaml:"history"`
	Suite            SuiteConfig    `yaml:"suite"`
	Workflow         WorkflowConfig `yaml:"workflow"`
	ManifestCacheLen int            `yaml:"manifest_cache"`
}

// HistoryConfig bounds the run registry.
type HistoryConfig struct {
	Capacity         int    `yaml:"capacity"`
	RawRetention     string `yaml:"retention"`
	RawSweepInterval string `yaml:"sweep_interval"`
}

// SuiteConfig defines the test-suite steps.
type SuiteConfig struct {
	PackageManager string      `yaml:"package_manager"` // npm, pnpm, yarn, bun; detected when empty
	Steps          []SuiteStep `yaml:"steps"`
}

// SuiteStep is one step of the test suite.
type SuiteStep struct {
	Name     string   `yaml:"name"`
	Script   string   `yaml:"script"`   // package.json script; empty for package manager subcommands
	Args     []string `yaml:"args"`     // package manager arguments when Script is empty (e.g. [audit])
	Required bool     `yaml:"required"` // a failure halts the suite
	Parser   string   `yaml:"parser"`   // lint, build, test, audit
}

// WorkflowConfig controls workflow discovery and execution.
type WorkflowConfig struct {
	Dir   string `yaml:"dir"`
	Shell string `yaml:"shell"`
}

// DefaultSuiteSteps are used when no steps are configured, in canonical order.
var DefaultSuiteSteps = []SuiteStep{
	{Name: "lint", Script: "lint", Parser: "lint"},
	{Name: "audit", Args: []string{"audit"}, Parser: "audit"},
	{Name: "build", Script: "build", Required: true, Parser: "build"},
	{Name: "test:backend", Script: "test:backend", Parser: "test"},
	{Name: "e2e", Script: "test:e2e", Parser: "test"},
}

// Timeout returns the configured per-step timeout or the default.
func (c *Config) Timeout() time.Duration {
	return duration(c.RawTimeout, DefaultTimeout)
}

// GracePeriod returns the configured termination grace period or the default.
func (c *Config) GracePeriod() time.Duration {
	return duration(c.RawGracePeriod, DefaultGracePeriod)
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// HistoryCapacity returns the number of completed runs kept in history.
func (c *Config) HistoryCapacity() int {
	if c.History.Capacity > 0 {
		return c.History.Capacity
	}
	return DefaultHistoryCapacity
}

// HistoryRetention returns how long a completed run stays pollable by id.
func (c *Config) HistoryRetention() time.Duration {
	return duration(c.History.RawRetention, DefaultHistoryRetention)
}

// SweepInterval returns how often expired runs are evicted.
func (c *Config) SweepInterval() time.Duration {
	return duration(c.History.RawSweepInterval, DefaultSweepInterval)
}

// SuiteSteps returns the configured suite steps, falling back to defaults.
func (c *Config) SuiteSteps() []SuiteStep {
	if len(c.Suite.Steps) > 0 {
		return c.Suite.Steps
	}
	return DefaultSuiteSteps
}

// WorkflowDir returns the project-relative directory holding workflow files.
func (c *Config) WorkflowDir() string {
	if c.Workflow.Dir != "" {
		return c.Workflow.Dir
	}
	return DefaultWorkflowDir
}

// Shell returns the default shell for workflow steps.
func (c *Config) Shell() string {
	if c.Workflow.Shell != "" {
		return c.Workflow.Shell
	}
	return DefaultShell
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	if c.Listen != "" {
		return c.Listen
	}
	return DefaultListen
}

// ManifestCacheSize returns the number of package.json files kept parsed.
func (c *Config) ManifestCacheSize() int {
	if c.ManifestCacheLen > 0 {
		return c.ManifestCacheLen
	}
	return 64
}

func duration(raw string, def time.Duration) time.Duration {
	if raw != "" {
		d, err := time.ParseDuration(raw)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}

// LoadResult holds the parsed config and the directory it applies to.
type LoadResult struct {
	Config *Config
	Root   string // directory containing .conveyor; falls back to the start directory
}

// Load reads the .conveyor file found by walking upward from dir.
// If none exists, a default Config rooted at dir is returned.
func Load(dir string) (*LoadResult, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(err, "resolving config directory")
	}

	root, err := findRoot(abs)
	if err != nil {
		return &LoadResult{Config: &Config{}, Root: abs}, nil
	}

	path := filepath.Join(root, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", FileName)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", FileName)
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid %s", FileName)
	}
	return &LoadResult{Config: cfg, Root: root}, nil
}

func (c *Config) validate() error {
	seen := make(map[string]bool)
	for i, s := range c.Suite.Steps {
		if s.Name == "" {
			return errors.Errorf("suite step %d has no name", i)
		}
		if seen[s.Name] {
			return errors.Errorf("suite step %q is declared twice", s.Name)
		}
		seen[s.Name] = true
		if s.Script == "" && len(s.Args) == 0 {
			return errors.Errorf("suite step %q needs a script or args", s.Name)
		}
	}
	return nil
}

// findRoot walks upward from dir looking for a directory containing .conveyor.
func findRoot(dir string) (string, error) {
	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.Errorf("%s not found", FileName)
		}
		dir = parent
	}
}
