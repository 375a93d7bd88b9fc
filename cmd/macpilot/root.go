package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/entrhq/macpilot/pkg/config"
)

// rootOptions are the persistent flags shared by every command
type rootOptions struct {
	configPath string
	workDir    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "macpilot",
		Short: "Safety-gated tool execution with automatic recovery",
		Long: `macpilot runs tool requests on behalf of an automation agent: shell
commands, file reads and writes, file search and browser actions. Every
request passes a safety check first, and failed requests are classified and
recovered (browser restart, retry, cleanup) before being retried once.

Examples:
  macpilot submit execute_command --params '{"command":"echo hi"}'
  macpilot submit browser_action --params '{"action":"launch","url":"https://example.com"}'
  macpilot serve --metrics-addr :9090 < requests.jsonl
  macpilot history --limit 20
  macpilot recover --kind extension_error --error "extension host exited"
  macpilot config init`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default ~/.macpilot/config.yaml when present)")
	cmd.PersistentFlags().StringVarP(&opts.workDir, "work-dir", "w", "", "Working directory for commands and file tools")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	cmd.AddCommand(
		newSubmitCmd(opts),
		newServeCmd(opts),
		newHistoryCmd(opts),
		newRecoverCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

// loadConfig resolves the config file and applies flag overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultPath()); err == nil {
			path = config.DefaultPath()
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if o.workDir != "" {
		cfg.WorkDir = o.workDir
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, cfg.Validate()
}
