package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entrhq/macpilot/pkg/types"
)

func newRecoverCmd(root *rootOptions) *cobra.Command {
	var (
		kind        string
		message     string
		contextJSON string
	)

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Run recovery for an externally reported error",
		Long: `Drive the recovery engine directly, e.g. from an extension monitor that
noticed the extension host crashed or the system ran low on resources.

  macpilot recover --kind extension_error --error "host exited" --context '{"pid":4242}'
  macpilot recover --kind system_error --error "disk full"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := map[string]any{}
			if contextJSON != "" {
				if err := json.Unmarshal([]byte(contextJSON), &fields); err != nil {
					return fmt.Errorf("invalid --context JSON: %w", err)
				}
			}

			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			result := a.agent.Recover(cmd.Context(), types.ErrorKind(kind), message, fields)
			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Success {
				return errReported
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Error kind: browser_error, tool_error, extension_error, system_error")
	cmd.Flags().StringVarP(&message, "error", "e", "", "Error message used for classification")
	cmd.Flags().StringVar(&contextJSON, "context", "", "Additional context as a JSON object (tool, url, pid, ...)")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}
