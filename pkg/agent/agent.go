// Package agent is the entry point for tool requests. An Agent gates each
// request through the safety analyzer, executes it, and on an execution
// failure runs one round of recovery followed by a single retry.
//
//	ag := agent.New(exec,
//		agent.WithRecovery(engine),
//		agent.WithHistory(store),
//	)
//	result := ag.Submit(ctx, "execute_command", types.Params{"command": "ls"})
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/entrhq/macpilot/pkg/executor"
	"github.com/entrhq/macpilot/pkg/history"
	"github.com/entrhq/macpilot/pkg/logging"
	"github.com/entrhq/macpilot/pkg/metrics"
	"github.com/entrhq/macpilot/pkg/recovery"
	"github.com/entrhq/macpilot/pkg/security/safety"
	"github.com/entrhq/macpilot/pkg/types"
)

// PermissionDenied is the error text of every request rejected by the safety
// analyzer.
const PermissionDenied = "Permission denied"

// ToolExecutor runs approved requests
type ToolExecutor interface {
	Execute(ctx context.Context, req types.ToolRequest) types.ToolResult
}

// Recoverer drives recovery for a failed request
type Recoverer interface {
	Recover(ctx context.Context, kind types.ErrorKind, message string, fields map[string]any) types.RecoveryResult
}

// HistoryStore is the audit log the agent writes to and reads back from.
type HistoryStore interface {
	Append(rec history.Record) error
	Recent(limit int) ([]history.Record, error)
	Clear() error
}

// Agent combines the safety gate, the executor, recovery and the audit log.
// It is safe for concurrent use; the executor and recovery engine serialize
// access to the resources they share.
type Agent struct {
	analyzer *safety.Analyzer
	executor ToolExecutor
	recovery Recoverer
	history  HistoryStore
	logger   *logging.Logger
	metrics  *metrics.Metrics

	historyMu sync.Mutex
}

// Option configures an Agent
type Option func(*Agent)

// WithAnalyzer replaces the default safety analyzer
func WithAnalyzer(a *safety.Analyzer) Option {
	return func(ag *Agent) {
		ag.analyzer = a
	}
}

// WithRecovery enables automatic recovery of failed requests.
// Without it failures are returned as they are.
func WithRecovery(r Recoverer) Option {
	return func(ag *Agent) {
		ag.recovery = r
	}
}

// WithHistory records every request, approved or not.
func WithHistory(h HistoryStore) Option {
	return func(ag *Agent) {
		ag.history = h
	}
}

// WithLogger sets the agent logger
func WithLogger(l *logging.Logger) Option {
	return func(ag *Agent) {
		ag.logger = l
	}
}

// WithMetrics records safety denials on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(ag *Agent) {
		ag.metrics = m
	}
}

// New creates an agent that executes approved requests with exec.
func New(exec ToolExecutor, opts ...Option) *Agent {
	ag := &Agent{
		executor: exec,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(ag)
	}
	if ag.analyzer == nil {
		ag.analyzer = safety.NewAnalyzer(safety.WithLogger(ag.logger))
	}
	return ag
}

// Submit runs one tool request end to end and returns its final result.
func (ag *Agent) Submit(ctx context.Context, tool string, params types.Params) types.ToolResult {
	return ag.SubmitRequest(ctx, types.NewToolRequest(tool, params))
}

// SubmitRequest is Submit for an already built request.
func (ag *Agent) SubmitRequest(ctx context.Context, req types.ToolRequest) types.ToolResult {
	verdict := ag.analyzer.Evaluate(req.Tool(), req.Params())
	if !verdict.Approved {
		ag.metrics.ObserveDenial(req.Tool())
		result := types.Failed(types.FailureSafetyDenied, PermissionDenied)
		ag.record(req, false, result)
		return result
	}

	result := ag.executor.Execute(ctx, req)
	if !result.Success && result.Failure.Recoverable() && ag.recovery != nil {
		result = ag.recoverAndRetry(ctx, req, result)
	}

	ag.record(req, true, result)
	return result
}

// recoverAndRetry hands the failure to the recovery engine and, when it
// reports success, re-executes the request exactly once.
func (ag *Agent) recoverAndRetry(ctx context.Context, req types.ToolRequest, failed types.ToolResult) types.ToolResult {
	kind := types.ErrorKindTool
	if types.ToolKind(req.Tool()) == types.ToolBrowserAction {
		kind = types.ErrorKindBrowser
	}

	params := req.Params()
	fields := map[string]any{
		"tool":    req.Tool(),
		"params":  params,
		"error":   failed.Error,
		"request": req,
	}
	if url, ok := params.String("url"); ok && url != "" {
		fields["url"] = url
	}

	ag.logger.Infof("%s failed (%s), starting recovery", req.Tool(), failed.Error)
	rec := ag.recovery.Recover(ctx, kind, failed.Error, fields)
	if !rec.Success {
		ag.logger.Warnf("recovery for %s failed: %s", req.Tool(), rec.Error)
		out := failed
		out.Error = fmt.Sprintf("%s; recovery failed: %s", failed.Error, rec.Error)
		if rec.Failure != "" {
			out.Failure = rec.Failure
		}
		return out
	}

	ag.logger.Infof("recovered with %s, retrying %s", rec.ActionTaken, req.Tool())
	retry := ag.executor.Execute(ctx, req)
	if !retry.Success {
		retry.Error = fmt.Sprintf("retry after %s failed: %s", rec.ActionTaken, retry.Error)
	}
	return retry
}

// Recover runs the recovery engine directly, e.g. for extension or system
// errors reported from outside a tool request.
func (ag *Agent) Recover(ctx context.Context, kind types.ErrorKind, message string, fields map[string]any) types.RecoveryResult {
	if ag.recovery == nil {
		return types.RecoveryResult{
			Success: false,
			Error:   fmt.Sprintf("No recovery strategy for %s", kind),
			Failure: types.FailureRecoveryUnclassified,
		}
	}
	return ag.recovery.Recover(ctx, kind, message, fields)
}

// GetHistory returns the last limit audit records; limit <= 0 returns all.
func (ag *Agent) GetHistory(limit int) ([]history.Record, error) {
	if ag.history == nil {
		return []history.Record{}, nil
	}
	return ag.history.Recent(limit)
}

// ClearHistory removes every audit record.
func (ag *Agent) ClearHistory() error {
	if ag.history == nil {
		return nil
	}
	ag.historyMu.Lock()
	defer ag.historyMu.Unlock()
	return ag.history.Clear()
}

func (ag *Agent) record(req types.ToolRequest, approved bool, result types.ToolResult) {
	if ag.history == nil {
		return
	}
	ag.historyMu.Lock()
	defer ag.historyMu.Unlock()
	if err := ag.history.Append(history.NewToolRecord(req, approved, result)); err != nil {
		ag.logger.Warnf("failed to record %s request: %v", req.Tool(), err)
	}
}

var (
	_ ToolExecutor = (*executor.Executor)(nil)
	_ Recoverer    = (*recovery.Engine)(nil)
)
