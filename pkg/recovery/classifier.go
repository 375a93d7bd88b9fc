package recovery

import (
	"maps"
	"strings"
	"time"

	"github.com/entrhq/macpilot/pkg/types"
)

// Strategy picks the recovery action for one error kind. Strategies must not
// fail: missing or unexpected context fields select the default action.
type Strategy func(context map[string]any) types.RecoveryAction

// Classifier maps error kinds to strategies.
type Classifier struct {
	strategies map[types.ErrorKind]Strategy
}

// NewClassifier creates a classifier with the built-in strategies for the
// browser, tool, extension and system error kinds.
func NewClassifier() *Classifier {
	c := &Classifier{strategies: map[types.ErrorKind]Strategy{}}
	c.Register(types.ErrorKindBrowser, browserStrategy)
	c.Register(types.ErrorKindTool, toolStrategy)
	c.Register(types.ErrorKindExtension, extensionStrategy)
	c.Register(types.ErrorKindSystem, systemStrategy)
	return c
}

// Register sets the strategy for kind, replacing any existing one.
func (c *Classifier) Register(kind types.ErrorKind, s Strategy) {
	c.strategies[kind] = s
}

// Has reports whether a strategy exists for kind.
func (c *Classifier) Has(kind types.ErrorKind) bool {
	_, ok := c.strategies[kind]
	return ok
}

// Classify returns the action for kind. ok is false when no strategy is
// registered for the kind.
func (c *Classifier) Classify(kind types.ErrorKind, context map[string]any) (action types.RecoveryAction, ok bool) {
	s, ok := c.strategies[kind]
	if !ok {
		return types.RecoveryAction{}, false
	}
	return s(context), true
}

func newAction(kind types.RecoveryActionKind, params map[string]any) types.RecoveryAction {
	return types.RecoveryAction{
		Kind:     kind,
		Params:   maps.Clone(params),
		IssuedAt: time.Now(),
	}
}

// errorText returns the lower-cased "error" context field, or "".
func errorText(context map[string]any) string {
	s, _ := context["error"].(string)
	return strings.ToLower(s)
}

// browserStrategy checks "timeout" before "navigation": a navigation timeout
// needs a forced restart, not a longer timeout.
func browserStrategy(context map[string]any) types.RecoveryAction {
	msg := errorText(context)
	switch {
	case strings.Contains(msg, "timeout"):
		return newAction(types.ActionRestartBrowser, map[string]any{"force": true})
	case strings.Contains(msg, "navigation"):
		return newAction(types.ActionRetryTool, map[string]any{"timeout": 60000})
	default:
		return newAction(types.ActionRestartBrowser, map[string]any{})
	}
}

func toolStrategy(context map[string]any) types.RecoveryAction {
	tool, _ := context["tool"].(string)
	if strings.Contains(errorText(context), "permission") {
		return newAction(types.ActionCleanupSystem, map[string]any{"tool": tool})
	}
	return newAction(types.ActionRetryTool, map[string]any{"tool": tool})
}

func extensionStrategy(map[string]any) types.RecoveryAction {
	return newAction(types.ActionRestartExtension, map[string]any{})
}

func systemStrategy(map[string]any) types.RecoveryAction {
	return newAction(types.ActionCleanupSystem, map[string]any{"full": true})
}
