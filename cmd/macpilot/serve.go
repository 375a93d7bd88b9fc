package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrhq/macpilot/pkg/logging"
	"github.com/entrhq/macpilot/pkg/types"
)

// maxRequestLine bounds one JSON request on stdin
const maxRequestLine = 16 * 1024 * 1024

// serveRequest is one line read by `macpilot serve`.
type serveRequest struct {
	ID     string       `json:"id,omitempty"`
	Tool   string       `json:"tool"`
	Params types.Params `json:"params"`
}

// serveResponse is written for every request line, in order.
type serveResponse struct {
	ID     string            `json:"id,omitempty"`
	Result *types.ToolResult `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

type requestSubmitter interface {
	SubmitRequest(ctx context.Context, req types.ToolRequest) types.ToolResult
}

func newServeCmd(root *rootOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Process JSON-lines tool requests from stdin",
		Long: `Read one JSON request per line from stdin and write one JSON response per
line to stdout, in order:

  {"id":"1","tool":"execute_command","params":{"command":"ls"}}
  {"id":"1","result":{"success":true,"output":"...","duration":0.004}}

The browser session stays open between requests. With --metrics-addr, a
Prometheus endpoint is served at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Metrics.Addr = metricsAddr
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if cfg.Metrics.Addr != "" {
				stop := startMetricsServer(cfg.Metrics.Addr, a.metrics.Handler(), a.logger)
				defer stop()
			}

			return serveLines(ctx, a.agent, cmd.InOrStdin(), cmd.OutOrStdout(), a.logger)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

// serveLines handles requests sequentially until r is exhausted or ctx ends.
func serveLines(ctx context.Context, sub requestSubmitter, r io.Reader, w io.Writer, logger *logging.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxRequestLine)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req serveRequest
		if err := json.Unmarshal(line, &req); err != nil {
			logger.Warnf("rejected request line: %v", err)
			if err := enc.Encode(serveResponse{Error: fmt.Sprintf("invalid request: %v", err)}); err != nil {
				return err
			}
			continue
		}
		if req.Tool == "" {
			if err := enc.Encode(serveResponse{ID: req.ID, Error: "invalid request: missing tool"}); err != nil {
				return err
			}
			continue
		}

		toolReq := types.NewToolRequest(req.Tool, req.Params)
		id := req.ID
		if id == "" {
			id = toolReq.ID()
		}
		result := sub.SubmitRequest(ctx, toolReq)
		if err := enc.Encode(serveResponse{ID: id, Result: &result}); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// startMetricsServer serves h at /metrics and returns a stop function.
func startMetricsServer(addr string, h http.Handler, logger *logging.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Infof("metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
