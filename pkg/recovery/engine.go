// Package recovery classifies tool failures and drives bounded, linearly
// backed-off recovery attempts against the affected resources.
package recovery

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/entrhq/macpilot/pkg/history"
	"github.com/entrhq/macpilot/pkg/logging"
	"github.com/entrhq/macpilot/pkg/metrics"
	"github.com/entrhq/macpilot/pkg/types"
)

// Defaults for the retry loop
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

// State is a recovery engine state.
type State int

const (
	StateIdle State = iota
	StateClassifying
	StateActionExecuting
	StateSucceeded
	StateRetrying
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClassifying:
		return "classifying"
	case StateActionExecuting:
		return "action_executing"
	case StateSucceeded:
		return "succeeded"
	case StateRetrying:
		return "retrying"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ActionExecutor carries out a classified recovery action. A false result
// with a nil error is an ordinary failed attempt; an error is an unexpected
// failure.
type ActionExecutor interface {
	Execute(ctx context.Context, action types.RecoveryAction, rc types.RecoveryContext) (bool, error)
}

// AuditLog receives one record per recovery run.
type AuditLog interface {
	Append(rec history.Record) error
}

// Engine runs the recovery state machine. Recoveries are serialized: the
// actions mutate shared resources such as the browser session and cache.
type Engine struct {
	mu sync.Mutex

	classifier *Classifier
	actions    ActionExecutor
	audit      AuditLog
	maxRetries int
	retryDelay time.Duration
	sleep      Sleeper
	observer   func(State)
	logger     *logging.Logger
	metrics    *metrics.Metrics

	stateMu sync.Mutex
	state   State
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithMaxRetries bounds the number of attempts per recovery
func WithMaxRetries(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithRetryDelay sets the base delay; attempt n waits n*delay
func WithRetryDelay(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d >= 0 {
			e.retryDelay = d
		}
	}
}

// WithSleeper replaces the backoff sleeper
func WithSleeper(s Sleeper) EngineOption {
	return func(e *Engine) {
		e.sleep = s
	}
}

// WithAuditLog records every recovery run
func WithAuditLog(a AuditLog) EngineOption {
	return func(e *Engine) {
		e.audit = a
	}
}

// WithClassifier replaces the built-in classifier
func WithClassifier(c *Classifier) EngineOption {
	return func(e *Engine) {
		e.classifier = c
	}
}

// WithObserver is called on every state transition
func WithObserver(fn func(State)) EngineOption {
	return func(e *Engine) {
		e.observer = fn
	}
}

// WithEngineLogger sets the engine logger
func WithEngineLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithEngineMetrics records attempts and outcomes on m
func WithEngineMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an engine that executes actions through actions.
func NewEngine(actions ActionExecutor, opts ...EngineOption) *Engine {
	e := &Engine{
		classifier: NewClassifier(),
		actions:    actions,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		sleep:      Sleep,
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxRetries returns the attempt bound
func (e *Engine) MaxRetries() int {
	return e.maxRetries
}

// State returns the current state.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *Engine) transition(s State) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
	if e.observer != nil {
		e.observer(s)
	}
}

// Recover attempts to recover from a failure of the given kind. fields
// describe the failing call (tool, params, url, pid, ...). When they have no
// "error" entry, message is used for classification.
func (e *Engine) Recover(ctx context.Context, kind types.ErrorKind, message string, fields map[string]any) types.RecoveryResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.transition(StateIdle)

	base := maps.Clone(fields)
	if base == nil {
		base = map[string]any{}
	}
	if _, ok := base["error"]; !ok {
		base["error"] = message
	}

	if e.audit != nil {
		if err := e.audit.Append(history.NewRecoveryRecord(kind, message, base)); err != nil {
			e.logger.Warnf("failed to record recovery: %v", err)
		}
	}

	if !e.classifier.Has(kind) {
		e.logger.Warnf("no recovery strategy for %s", kind)
		e.metrics.ObserveRecoveryOutcome(string(kind), "unclassified")
		return types.RecoveryResult{
			Success: false,
			Error:   fmt.Sprintf("No recovery strategy for %s", kind),
			Failure: types.FailureRecoveryUnclassified,
		}
	}

	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		e.transition(StateClassifying)
		action, _ := e.classifier.Classify(kind, base)

		rc := types.RecoveryContext{
			ErrorKind: kind,
			RawError:  message,
			Context:   mergeParams(base, action.Params),
			Attempt:   attempt,
		}

		e.transition(StateActionExecuting)
		e.logger.Infof("attempt %d/%d: %s for %s", attempt, e.maxRetries, action.Kind, kind)
		ok, err := e.actions.Execute(ctx, action, rc)
		e.metrics.ObserveRecoveryAttempt(string(action.Kind), ok && err == nil)

		switch {
		case err != nil && attempt == e.maxRetries:
			e.transition(StateExhausted)
			e.logger.Errorf("%s failed on final attempt: %v", action.Kind, err)
			e.metrics.ObserveRecoveryOutcome(string(kind), "exhausted")
			return types.RecoveryResult{
				Success: false,
				Error:   err.Error(),
				Failure: types.FailureRecoveryExhausted,
			}
		case err != nil:
			e.logger.Warnf("%s failed: %v", action.Kind, err)
		case ok:
			e.transition(StateSucceeded)
			e.logger.Infof("recovered from %s with %s", kind, action.Kind)
			e.metrics.ObserveRecoveryOutcome(string(kind), "succeeded")
			return types.RecoveryResult{Success: true, ActionTaken: action.Kind}
		}

		if attempt < e.maxRetries {
			e.transition(StateRetrying)
			if err := e.sleep(ctx, e.retryDelay*time.Duration(attempt)); err != nil {
				e.metrics.ObserveRecoveryOutcome(string(kind), "canceled")
				return types.RecoveryResult{
					Success: false,
					Error:   fmt.Sprintf("recovery canceled: %v", err),
					Failure: types.FailureRecoveryExhausted,
				}
			}
		}
	}

	e.transition(StateExhausted)
	e.metrics.ObserveRecoveryOutcome(string(kind), "exhausted")
	return types.RecoveryResult{
		Success: false,
		Error:   fmt.Sprintf("Recovery failed after %d attempts", e.maxRetries),
		Failure: types.FailureRecoveryExhausted,
	}
}

// mergeParams layers the action parameters over the failing call's context.
func mergeParams(base, params map[string]any) map[string]any {
	merged := maps.Clone(base)
	maps.Copy(merged, params)
	return merged
}
