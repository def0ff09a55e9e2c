// internal/config/config.go
//
// This package handles configuration and the .counter directory structure.
// Every project that runs the counter gets a .counter/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Dir is the name of the directory we create in each project
	Dir = ".counter"

	// DefaultTickInterval is the pause between two counter publications.
	DefaultTickInterval = 100 * time.Millisecond
	// DefaultWatchdogDeadline is how long the watchdog waits before forcing a stop.
	DefaultWatchdogDeadline = 10 * time.Second
	// DefaultPollInterval is how often the watchdog re-checks its latch.
	DefaultPollInterval = 100 * time.Millisecond

	defaultBridgeHost  = "127.0.0.1"
	defaultBridgePort  = 8766
	defaultBridgeRate  = 20.0
	defaultBridgeBurst = 10
)

const defaultProjectConfigYAML = `# reactive counter configuration
version: 1

counter:
  tick_interval: 100ms
  initial_value: 0

# The watchdog stops the counter and locks the controls once the deadline elapses.
watchdog:
  enabled: true
  deadline: 10s
  poll_interval: 100ms

# Optional HTTP command bridge (POST /commands, GET /health, GET /metrics).
bridge:
  enabled: false
  host: 127.0.0.1
  port: 8766
`

// CounterConfig configures the counting agent.
type CounterConfig struct {
	TickInterval string `yaml:"tick_interval"`
	InitialValue int64  `yaml:"initial_value"`
}

// WatchdogConfig configures the deadline agent.
type WatchdogConfig struct {
	Enabled      *bool  `yaml:"enabled,omitempty"`
	Deadline     string `yaml:"deadline"`
	PollInterval string `yaml:"poll_interval"`
}

// BridgeConfig configures the HTTP command bridge.
type BridgeConfig struct {
	Enabled       *bool   `yaml:"enabled,omitempty"`
	Host          string  `yaml:"host,omitempty"`
	Port          int     `yaml:"port,omitempty"`
	RatePerSecond float64 `yaml:"rate_per_second,omitempty"`
	Burst         int     `yaml:"burst,omitempty"`
}

// ProjectConfig models .counter/config.yaml.
type ProjectConfig struct {
	Version  int            `yaml:"version"`
	Counter  CounterConfig  `yaml:"counter"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
	Bridge   BridgeConfig   `yaml:"bridge"`
}

// Config holds the runtime configuration for a counter session.
type Config struct {
	// ProjectDir is the directory the binary was started from
	ProjectDir string

	// CounterDir is ProjectDir/.counter
	CounterDir string

	Project ProjectConfig
}

// InitDir creates the .counter directory structure in the given project directory.
//
// Structure created:
// .counter/
// ├── logs/         <- counter.log and journal.log
// └── config.yaml
func InitDir(projectDir string) error {
	root := filepath.Join(projectDir, Dir)
	if err := os.MkdirAll(filepath.Join(root, "logs"), 0755); err != nil {
		return err
	}
	return ensureProjectConfig(filepath.Join(root, "config.yaml"))
}

// NewConfig creates a new Config instance populated with project settings.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir: projectDir,
		CounterDir: filepath.Join(projectDir, Dir),
		Project:    defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.CounterDir, "logs")
}

// JournalPath returns the file backing the session journal.
func (c *Config) JournalPath() string {
	return filepath.Join(c.LogsDir(), "journal.log")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.CounterDir, "config.yaml")
}

// TickInterval returns the parsed counter tick interval.
func (c *Config) TickInterval() time.Duration {
	return parseDurationOr(c.Project.Counter.TickInterval, DefaultTickInterval)
}

// InitialValue returns the first value the counter publishes.
func (c *Config) InitialValue() int64 {
	return c.Project.Counter.InitialValue
}

// WatchdogEnabled reports whether a watchdog should run alongside the counter.
func (c *Config) WatchdogEnabled() bool {
	if c.Project.Watchdog.Enabled == nil {
		return true
	}
	return *c.Project.Watchdog.Enabled
}

// WatchdogDeadline returns the parsed watchdog deadline.
func (c *Config) WatchdogDeadline() time.Duration {
	return parseDurationOr(c.Project.Watchdog.Deadline, DefaultWatchdogDeadline)
}

// WatchdogPollInterval returns the parsed watchdog poll interval.
func (c *Config) WatchdogPollInterval() time.Duration {
	return parseDurationOr(c.Project.Watchdog.PollInterval, DefaultPollInterval)
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Counter.TickInterval) == "" {
		pc.Counter.TickInterval = DefaultTickInterval.String()
	}
	if strings.TrimSpace(pc.Watchdog.Deadline) == "" {
		pc.Watchdog.Deadline = DefaultWatchdogDeadline.String()
	}
	if strings.TrimSpace(pc.Watchdog.PollInterval) == "" {
		pc.Watchdog.PollInterval = DefaultPollInterval.String()
	}
	if pc.Bridge.Host == "" {
		pc.Bridge.Host = defaultBridgeHost
	}
	if pc.Bridge.Port == 0 {
		pc.Bridge.Port = defaultBridgePort
	}
	if pc.Bridge.RatePerSecond == 0 {
		pc.Bridge.RatePerSecond = defaultBridgeRate
	}
	if pc.Bridge.Burst == 0 {
		pc.Bridge.Burst = defaultBridgeBurst
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Counter.TickInterval = strings.TrimSpace(pc.Counter.TickInterval)
	pc.Watchdog.Deadline = strings.TrimSpace(pc.Watchdog.Deadline)
	pc.Watchdog.PollInterval = strings.TrimSpace(pc.Watchdog.PollInterval)
	pc.Bridge.Host = strings.TrimSpace(pc.Bridge.Host)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if err := validatePositiveDuration("counter.tick_interval", pc.Counter.TickInterval); err != nil {
		return err
	}
	if err := validatePositiveDuration("watchdog.deadline", pc.Watchdog.Deadline); err != nil {
		return err
	}
	if err := validatePositiveDuration("watchdog.poll_interval", pc.Watchdog.PollInterval); err != nil {
		return err
	}
	if pc.Bridge.Port < 0 || pc.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be between 0 and 65535")
	}
	if pc.Bridge.RatePerSecond < 0 {
		return fmt.Errorf("bridge.rate_per_second must not be negative")
	}
	if pc.Bridge.Burst < 0 {
		return fmt.Errorf("bridge.burst must not be negative")
	}
	return nil
}

func validatePositiveDuration(field, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive", field)
	}
	return nil
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644)
}
