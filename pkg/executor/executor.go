// Package executor dispatches tool requests to their handlers and normalizes
// every outcome into a types.ToolResult.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/entrhq/macpilot/pkg/logging"
	"github.com/entrhq/macpilot/pkg/metrics"
	"github.com/entrhq/macpilot/pkg/types"
)

// Handler runs one tool kind. Handlers report failures through the returned
// result; the executor fills in the duration and failure kind.
type Handler interface {
	Handle(ctx context.Context, params types.Params) types.ToolResult
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, params types.Params) types.ToolResult

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, params types.Params) types.ToolResult {
	return f(ctx, params)
}

// Executor maps tool kinds to handlers. It is safe for concurrent use once
// constructed.
type Executor struct {
	handlers map[types.ToolKind]Handler
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// Option configures an Executor
type Option func(*Executor)

// WithLogger sets the executor logger
func WithLogger(logger *logging.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithMetrics records executions on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithHandler replaces the handler for one tool kind
func WithHandler(kind types.ToolKind, h Handler) Option {
	return func(e *Executor) {
		e.handlers[kind] = h
	}
}

// New creates an executor with the built-in handlers for deps. It panics if
// any tool kind ends up without a handler, which is a programming error.
func New(deps Dependencies, opts ...Option) *Executor {
	e := &Executor{
		handlers: deps.handlers(),
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, kind := range types.AllToolKinds {
		if e.handlers[kind] == nil {
			panic(fmt.Sprintf("executor: no handler registered for tool %q", kind))
		}
	}
	return e
}

// Execute runs the request. It never panics: unknown tools, handler
// failures and handler panics are all reported as failed results.
func (e *Executor) Execute(ctx context.Context, req types.ToolRequest) types.ToolResult {
	kind, ok := types.ParseToolKind(req.Tool())
	if !ok {
		e.logger.Warnf("unknown tool %q (request %s)", req.Tool(), req.ID())
		return types.Failed(types.FailureUnknownTool, "Unknown tool: %s", req.Tool())
	}

	e.logger.Debugf("executing %s (request %s)", kind, req.ID())

	start := time.Now()
	result := e.invoke(ctx, kind, req.Params())
	result.Duration = time.Since(start)
	if result.Duration <= 0 {
		// coarse clocks can report zero for very fast handlers
		result.Duration = time.Nanosecond
	}

	if result.Success {
		result.Failure = ""
		e.logger.Infof("%s succeeded in %s", kind, result.Duration)
	} else {
		result.Failure = types.FailureExecutionFailed
		e.logger.Warnf("%s failed in %s: %s", kind, result.Duration, result.Error)
	}
	e.metrics.ObserveTool(string(kind), result.Success, result.Duration.Seconds())
	return result
}

func (e *Executor) invoke(ctx context.Context, kind types.ToolKind, params types.Params) (result types.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorf("handler for %s panicked: %v\n%s", kind, r, debug.Stack())
			result = types.Failed(types.FailureExecutionFailed, "%s handler panicked: %v", kind, r)
		}
	}()
	return e.handlers[kind].Handle(ctx, params)
}
