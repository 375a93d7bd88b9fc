package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/entrhq/macpilot/pkg/types"
)

func newSubmitCmd(root *rootOptions) *cobra.Command {
	var paramsJSON string

	cmd := &cobra.Command{
		Use:   "submit <tool>",
		Short: "Run a single tool request",
		Long: `Run one tool request and print its result as JSON.

Tools: execute_command, write_to_file, read_file, list_files, search_files,
browser_action. The exit status is non-zero when the request fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(paramsJSON)
			if err != nil {
				return err
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

			result := a.agent.Submit(cmd.Context(), args[0], params)
			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Success {
				return errReported
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&paramsJSON, "params", "p", "{}", "Tool parameters as a JSON object")
	return cmd
}

// parseParams decodes a JSON object of tool parameters.
func parseParams(s string) (types.Params, error) {
	if s == "" {
		return types.Params{}, nil
	}
	var params types.Params
	if err := json.Unmarshal([]byte(s), &params); err != nil {
		return nil, fmt.Errorf("invalid --params JSON: %w", err)
	}
	if params == nil {
		params = types.Params{}
	}
	return params, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
