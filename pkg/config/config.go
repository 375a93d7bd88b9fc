// Package config loads macpilot settings from defaults, an optional YAML file
// and MACPILOT_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvPrefix prefixes environment overrides, e.g. MACPILOT_RECOVERY_MAX_RETRIES.
const EnvPrefix = "MACPILOT"

// Config is the complete macpilot configuration.
type Config struct {
	// WorkDir is the root for commands and file tools
	WorkDir string `yaml:"work_dir" mapstructure:"work_dir"`
	// CacheDir holds the browser disk cache and tool temp files
	CacheDir    string `yaml:"cache_dir" mapstructure:"cache_dir"`
	HistoryPath string `yaml:"history_path" mapstructure:"history_path"`

	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
	Executor ExecutorConfig `yaml:"executor" mapstructure:"executor"`
	Browser  BrowserConfig  `yaml:"browser" mapstructure:"browser"`
	Recovery RecoveryConfig `yaml:"recovery" mapstructure:"recovery"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level" mapstructure:"level"`
	// Dir overrides ~/.macpilot/logs
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ExecutorConfig bounds tool execution
type ExecutorConfig struct {
	CommandTimeout time.Duration `yaml:"command_timeout" mapstructure:"command_timeout"`
}

// BrowserConfig configures the browser session
type BrowserConfig struct {
	Headless                  bool          `yaml:"headless" mapstructure:"headless"`
	Width                     int           `yaml:"width" mapstructure:"width"`
	Height                    int           `yaml:"height" mapstructure:"height"`
	NavigationTimeout         time.Duration `yaml:"navigation_timeout" mapstructure:"navigation_timeout"`
	RecoveryNavigationTimeout time.Duration `yaml:"recovery_navigation_timeout" mapstructure:"recovery_navigation_timeout"`
	// ProcessName is matched against OS process names on a forced restart
	ProcessName   string `yaml:"process_name" mapstructure:"process_name"`
	UserAgent     string `yaml:"user_agent" mapstructure:"user_agent"`
	ScreenshotDir string `yaml:"screenshot_dir" mapstructure:"screenshot_dir"`
}

// RecoveryConfig tunes the recovery engine and its actions
type RecoveryConfig struct {
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	// SettleDelay is waited between closing and relaunching the browser
	SettleDelay          time.Duration `yaml:"settle_delay" mapstructure:"settle_delay"`
	ExtensionSettleDelay time.Duration `yaml:"extension_settle_delay" mapstructure:"extension_settle_delay"`
	// CleanupProcessNames are terminated (current user only) by a full cleanup
	CleanupProcessNames []string `yaml:"cleanup_process_names" mapstructure:"cleanup_process_names"`
}

// MetricsConfig configures the Prometheus endpoint of `macpilot serve`
type MetricsConfig struct {
	// Addr is a listen address such as ":9090"; empty disables the endpoint
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	base := macpilotDir()
	return &Config{
		WorkDir:     ".",
		CacheDir:    filepath.Join(base, "cache"),
		HistoryPath: filepath.Join(base, "history.jsonl"),
		Logging: LoggingConfig{
			Level: "info",
		},
		Executor: ExecutorConfig{
			CommandTimeout: 30 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:                  true,
			Width:                     900,
			Height:                    600,
			NavigationTimeout:         30 * time.Second,
			RecoveryNavigationTimeout: 60 * time.Second,
			ProcessName:               "chrome",
			ScreenshotDir:             filepath.Join(base, "screenshots"),
		},
		Recovery: RecoveryConfig{
			MaxRetries:           3,
			RetryDelay:           time.Second,
			SettleDelay:          time.Second,
			ExtensionSettleDelay: 2 * time.Second,
			CleanupProcessNames:  []string{"chrome", "python"},
		},
	}
}

// macpilotDir returns ~/.macpilot, or .macpilot when there is no home directory.
func macpilotDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".macpilot"
	}
	return filepath.Join(home, ".macpilot")
}

// BrowserCacheDir is the browser's disk cache below CacheDir
func (c *Config) BrowserCacheDir() string {
	return filepath.Join(c.CacheDir, "browser")
}

// ToolsCacheDir holds tool temp files below CacheDir
func (c *Config) ToolsCacheDir() string {
	return filepath.Join(c.CacheDir, "tools")
}

// checkCacheDir rejects a cache_dir that is, or encloses, a path macpilot
// must keep: recovery cleanups empty the cache root.
func (c *Config) checkCacheDir() error {
	logDir := c.Logging.Dir
	if logDir == "" {
		logDir = filepath.Join(macpilotDir(), "logs")
	}
	kept := []struct {
		key  string
		path string
	}{
		{"work_dir", c.WorkDir},
		{"history_path", c.HistoryPath},
		{"logging.dir", logDir},
		{"browser.screenshot_dir", c.Browser.ScreenshotDir},
	}
	for _, k := range kept {
		if k.path == "" {
			continue
		}
		inside, err := within(c.CacheDir, k.path)
		if err != nil {
			return fmt.Errorf("cannot compare cache_dir with %s: %w", k.key, err)
		}
		if inside {
			return fmt.Errorf("cache_dir %q must not contain %s %q", c.CacheDir, k.key, k.path)
		}
	}
	return nil
}

// within reports whether path is dir itself or lies below it.
func within(dir, path string) (bool, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false, nil
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)), nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return fmt.Errorf("work_dir is required")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache_dir is required")
	}
	if c.HistoryPath == "" {
		return fmt.Errorf("history_path is required")
	}
	if err := c.checkCacheDir(); err != nil {
		return err
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q (must be debug, info, warn or error)", c.Logging.Level)
	}

	if c.Executor.CommandTimeout <= 0 {
		return fmt.Errorf("executor.command_timeout must be positive")
	}

	if c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		return fmt.Errorf("browser viewport must be positive, got %dx%d", c.Browser.Width, c.Browser.Height)
	}
	if c.Browser.NavigationTimeout <= 0 || c.Browser.RecoveryNavigationTimeout <= 0 {
		return fmt.Errorf("browser navigation timeouts must be positive")
	}
	if c.Browser.ProcessName == "" {
		return fmt.Errorf("browser.process_name is required")
	}

	if c.Recovery.MaxRetries < 1 {
		return fmt.Errorf("recovery.max_retries must be at least 1")
	}
	if c.Recovery.RetryDelay < 0 || c.Recovery.SettleDelay < 0 || c.Recovery.ExtensionSettleDelay < 0 {
		return fmt.Errorf("recovery delays cannot be negative")
	}

	return nil
}
