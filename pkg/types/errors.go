package types

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a tool request did not succeed.
type FailureKind string

const (
	// FailureSafetyDenied means the safety analyzer rejected the request; it never ran
	FailureSafetyDenied FailureKind = "safety_denied"
	// FailureExecutionFailed means a handler ran and the tool itself failed
	FailureExecutionFailed FailureKind = "execution_failed"
	// FailureUnknownTool means no handler is registered for the tool name
	FailureUnknownTool FailureKind = "unknown_tool"
	// FailureRecoveryExhausted means every recovery attempt failed
	FailureRecoveryExhausted FailureKind = "recovery_exhausted"
	// FailureRecoveryUnclassified means no recovery strategy exists for the error kind
	FailureRecoveryUnclassified FailureKind = "recovery_unclassified"
)

var (
	ErrSafetyDenied         = errors.New("permission denied")
	ErrExecutionFailed      = errors.New("tool execution failed")
	ErrUnknownTool          = errors.New("unknown tool")
	ErrRecoveryExhausted    = errors.New("recovery exhausted")
	ErrRecoveryUnclassified = errors.New("no recovery strategy")
)

// Sentinel returns the sentinel error matching the failure kind.
func (k FailureKind) Sentinel() error {
	switch k {
	case FailureSafetyDenied:
		return ErrSafetyDenied
	case FailureUnknownTool:
		return ErrUnknownTool
	case FailureRecoveryExhausted:
		return ErrRecoveryExhausted
	case FailureRecoveryUnclassified:
		return ErrRecoveryUnclassified
	default:
		return ErrExecutionFailed
	}
}

// Recoverable reports whether a failure of this kind may be handed to the
// recovery engine. Only failures of the tool itself qualify.
func (k FailureKind) Recoverable() bool {
	return k == FailureExecutionFailed
}

// ToolError is the error form of a failed ToolResult.
type ToolError struct {
	Kind    FailureKind
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Tool, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the sentinel for the failure kind so callers can use errors.Is
func (e *ToolError) Unwrap() error {
	return e.Kind.Sentinel()
}
