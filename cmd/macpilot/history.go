package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/entrhq/macpilot/pkg/history"
	"github.com/entrhq/macpilot/pkg/logging"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the audit log of tool requests and recoveries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(root)
			if err != nil {
				return err
			}
			records, err := store.Recent(limit)
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			printHistory(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show only the last N records (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every audit record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(root)
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
			return nil
		},
	})
	return cmd
}

// openHistory opens the store without starting the rest of the app.
func openHistory(root *rootOptions) (*history.Store, error) {
	cfg, err := root.loadConfig()
	if err != nil {
		return nil, err
	}
	return history.NewStore(cfg.HistoryPath,
		history.WithLogger(logging.NewWithWriter("history", os.Stderr, logging.LevelWarn)))
}

func printHistory(w io.Writer, records []history.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No history found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tKIND\tSUBJECT\tSTATUS\tDETAIL")
	_, _ = fmt.Fprintln(tw, "----\t----\t-------\t------\t------")
	for _, rec := range records {
		subject, status, detail := summarize(rec)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			rec.Timestamp.Format("2006-01-02 15:04:05"), rec.Kind, subject, status, truncate(detail, 60))
	}
	_ = tw.Flush()
}

func summarize(rec history.Record) (subject, status, detail string) {
	switch rec.Kind {
	case history.KindTool:
		if rec.Request != nil {
			subject = rec.Request.Tool()
		}
		switch {
		case rec.Approved != nil && !*rec.Approved:
			status = "denied"
		case rec.Result != nil && rec.Result.Success:
			status = "ok"
			detail = rec.Result.Output
		default:
			status = "failed"
		}
		if rec.Result != nil && !rec.Result.Success {
			detail = rec.Result.Error
		}
	case history.KindRecovery:
		if rec.Recovery != nil {
			subject = string(rec.Recovery.ErrorKind)
			detail = rec.Recovery.Error
		}
		status = "started"
	}
	return subject, status, detail
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
