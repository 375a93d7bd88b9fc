package types

import "time"

// ErrorKind is the category of failure handed to the recovery engine.
type ErrorKind string

const (
	ErrorKindBrowser   ErrorKind = "browser_error"
	ErrorKindTool      ErrorKind = "tool_error"
	ErrorKindExtension ErrorKind = "extension_error"
	ErrorKindSystem    ErrorKind = "system_error"
)

// RecoveryActionKind is one of the fixed remediation operations.
type RecoveryActionKind string

const (
	ActionRestartBrowser   RecoveryActionKind = "restart_browser"
	ActionRetryTool        RecoveryActionKind = "retry_tool"
	ActionRestartExtension RecoveryActionKind = "restart_extension"
	ActionCleanupSystem    RecoveryActionKind = "cleanup_system"
)

// RecoveryAction is produced by classification and consumed immediately by
// the engine. It is never persisted.
type RecoveryAction struct {
	Kind     RecoveryActionKind
	Params   map[string]any
	IssuedAt time.Time
}

// RecoveryContext describes one recovery attempt. A fresh value is built for
// every attempt.
type RecoveryContext struct {
	ErrorKind ErrorKind
	RawError  string
	// Context is freeform data from the failing call site (tool, params, url,
	// pid, ...) with the action parameters layered on top.
	Context map[string]any
	Attempt int
}

// String returns the value for key when it is a string
func (c RecoveryContext) String(key string) string {
	s, _ := c.Context[key].(string)
	return s
}

// Bool returns the value for key when it is a bool
func (c RecoveryContext) Bool(key string) bool {
	b, _ := c.Context[key].(bool)
	return b
}

// RecoveryResult is the outcome of a recovery run.
type RecoveryResult struct {
	Success     bool               `json:"success"`
	ActionTaken RecoveryActionKind `json:"action_taken,omitempty"`
	Error       string             `json:"error,omitempty"`
	Failure     FailureKind        `json:"failure,omitempty"`
}
