package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and MACPILOT_* environment variables, in increasing
// order of precedence. A missing file is an error only when path was given.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv can see it during Unmarshal
	for key, value := range defaultKeys(Default()) {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// defaultKeys flattens cfg into viper's dotted key space.
func defaultKeys(cfg *Config) map[string]any {
	return map[string]any{
		"work_dir":                            cfg.WorkDir,
		"cache_dir":                           cfg.CacheDir,
		"history_path":                        cfg.HistoryPath,
		"logging.level":                       cfg.Logging.Level,
		"logging.dir":                         cfg.Logging.Dir,
		"executor.command_timeout":            cfg.Executor.CommandTimeout,
		"browser.headless":                    cfg.Browser.Headless,
		"browser.width":                       cfg.Browser.Width,
		"browser.height":                      cfg.Browser.Height,
		"browser.navigation_timeout":          cfg.Browser.NavigationTimeout,
		"browser.recovery_navigation_timeout": cfg.Browser.RecoveryNavigationTimeout,
		"browser.process_name":                cfg.Browser.ProcessName,
		"browser.user_agent":                  cfg.Browser.UserAgent,
		"browser.screenshot_dir":              cfg.Browser.ScreenshotDir,
		"recovery.max_retries":                cfg.Recovery.MaxRetries,
		"recovery.retry_delay":                cfg.Recovery.RetryDelay,
		"recovery.settle_delay":               cfg.Recovery.SettleDelay,
		"recovery.extension_settle_delay":     cfg.Recovery.ExtensionSettleDelay,
		"recovery.cleanup_process_names":      cfg.Recovery.CleanupProcessNames,
		"metrics.addr":                        cfg.Metrics.Addr,
	}
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

// WriteDefault writes the default configuration to path. An existing file is
// left alone unless overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to check config file: %w", err)
		}
	}

	data, err := Marshal(Default())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultPath returns ~/.macpilot/config.yaml
func DefaultPath() string {
	return filepath.Join(macpilotDir(), "config.yaml")
}
