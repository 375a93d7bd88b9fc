package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.Executor.CommandTimeout)
	assert.Equal(t, 3, cfg.Recovery.MaxRetries)
	assert.Equal(t, time.Second, cfg.Recovery.RetryDelay)
	assert.Equal(t, 2*time.Second, cfg.Recovery.ExtensionSettleDelay)
	assert.Equal(t, 60*time.Second, cfg.Browser.RecoveryNavigationTimeout)
	assert.Equal(t, []string{"chrome", "python"}, cfg.Recovery.CleanupProcessNames)
	assert.Equal(t, filepath.Join(cfg.CacheDir, "browser"), cfg.BrowserCacheDir())
	assert.Equal(t, filepath.Join(cfg.CacheDir, "tools"), cfg.ToolsCacheDir())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "empty work dir", mutate: func(c *Config) { c.WorkDir = "" }, wantErr: "work_dir"},
		{name: "empty history path", mutate: func(c *Config) { c.HistoryPath = "" }, wantErr: "history_path"},
		{name: "cache dir is work dir", mutate: func(c *Config) { c.WorkDir = c.CacheDir }, wantErr: "must not contain work_dir"},
		{name: "cache dir encloses work dir", mutate: func(c *Config) {
			c.WorkDir = filepath.Join(c.CacheDir, "project")
		}, wantErr: "must not contain work_dir"},
		{name: "cache dir is the current directory", mutate: func(c *Config) { c.CacheDir = "." }, wantErr: "must not contain work_dir"},
		{name: "cache dir encloses history", mutate: func(c *Config) {
			c.CacheDir = filepath.Dir(c.HistoryPath)
		}, wantErr: "must not contain history_path"},
		{name: "cache dir is log dir", mutate: func(c *Config) {
			c.WorkDir = t.TempDir()
			c.Logging.Dir = c.CacheDir
		}, wantErr: "must not contain logging.dir"},
		{name: "cache dir encloses default log dir", mutate: func(c *Config) {
			c.WorkDir = t.TempDir()
			c.HistoryPath = filepath.Join(t.TempDir(), "history.jsonl")
			c.CacheDir = filepath.Dir(filepath.Dir(c.CacheDir))
		}, wantErr: "must not contain logging.dir"},
		{name: "cache dir encloses screenshots", mutate: func(c *Config) {
			c.Browser.ScreenshotDir = filepath.Join(c.CacheDir, "shots")
		}, wantErr: "must not contain browser.screenshot_dir"},
		{name: "cache dir inside work dir", mutate: func(c *Config) {
			c.WorkDir = t.TempDir()
			c.CacheDir = filepath.Join(c.WorkDir, ".cache")
		}},
		{name: "sibling with common prefix", mutate: func(c *Config) {
			c.Browser.ScreenshotDir = c.CacheDir + "-screens"
		}},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging.level"},
		{name: "zero command timeout", mutate: func(c *Config) { c.Executor.CommandTimeout = 0 }, wantErr: "command_timeout"},
		{name: "zero viewport", mutate: func(c *Config) { c.Browser.Width = 0 }, wantErr: "viewport"},
		{name: "no retries", mutate: func(c *Config) { c.Recovery.MaxRetries = 0 }, wantErr: "max_retries"},
		{name: "negative delay", mutate: func(c *Config) { c.Recovery.RetryDelay = -time.Second }, wantErr: "negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
work_dir: /tmp/work
logging:
  level: debug
executor:
  command_timeout: 45s
recovery:
  max_retries: 5
  retry_delay: 250ms
  cleanup_process_names: [chromium]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/work", cfg.WorkDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 45*time.Second, cfg.Executor.CommandTimeout)
	assert.Equal(t, 5, cfg.Recovery.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Recovery.RetryDelay)
	assert.Equal(t, []string{"chromium"}, cfg.Recovery.CleanupProcessNames)
	// untouched keys keep their defaults
	assert.Equal(t, 900, cfg.Browser.Width)
	assert.Equal(t, 2*time.Second, cfg.Recovery.ExtensionSettleDelay)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MACPILOT_RECOVERY_MAX_RETRIES", "7")
	t.Setenv("MACPILOT_BROWSER_HEADLESS", "false")
	t.Setenv("MACPILOT_EXECUTOR_COMMAND_TIMEOUT", "2m")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Recovery.MaxRetries)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 2*time.Minute, cfg.Executor.CommandTimeout)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recovery:\n  max_retries: 0\n"), 0644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "max_retries")
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, WriteDefault(path, false))
	assert.Error(t, WriteDefault(path, false), "existing file must not be overwritten")
	require.NoError(t, WriteDefault(path, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "command_timeout: 30s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
