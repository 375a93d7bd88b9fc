// Package safety implements the approve/deny gate applied to every tool
// request before it can reach a resource driver.
//
// The policy is intentionally blunt: command strings are checked for raw
// substrings rather than parsed, so "lsmv" and even "format" (which holds
// "rm") are denied. Callers rely on these exact semantics; do not tokenize.
package safety

import (
	"fmt"
	"strings"

	"github.com/entrhq/macpilot/pkg/logging"
	"github.com/entrhq/macpilot/pkg/types"
)

// blockedCommandFragments deny an execute_command request when found anywhere
// in the command string.
var blockedCommandFragments = []string{"rm", "sudo", "mv", ">", "|"}

// Verdict is the outcome of analyzing one request. It is recomputed for
// every request and never cached.
type Verdict struct {
	Approved bool
	Reason   string
}

// Analyzer evaluates tool requests against the safety policy.
// It performs no I/O; the logger only records denials.
type Analyzer struct {
	logger *logging.Logger
}

// Option configures an Analyzer
type Option func(*Analyzer)

// WithLogger sets the logger used to record denials
func WithLogger(logger *logging.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{logger: logging.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Approve reports whether the request may run.
func (a *Analyzer) Approve(tool string, params types.Params) bool {
	return a.Evaluate(tool, params).Approved
}

// Evaluate applies the policy and explains the decision. Any panic raised
// while inspecting params results in a denial.
func (a *Analyzer) Evaluate(tool string, params types.Params) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			verdict = Verdict{Approved: false, Reason: fmt.Sprintf("safety analysis failed: %v", r)}
		}
		if !verdict.Approved {
			a.logger.Warnf("denied %s: %s", tool, verdict.Reason)
		}
	}()

	switch types.ToolKind(tool) {
	case types.ToolExecuteCommand:
		return checkCommand(params)
	case types.ToolWriteToFile, types.ToolReadFile:
		return checkPath(params)
	default:
		return Verdict{Approved: true, Reason: "no policy for tool"}
	}
}

func checkCommand(params types.Params) Verdict {
	command, err := optionalString(params, "command")
	if err != nil {
		return Verdict{Approved: false, Reason: err.Error()}
	}
	for _, fragment := range blockedCommandFragments {
		if strings.Contains(command, fragment) {
			return Verdict{Approved: false, Reason: fmt.Sprintf("command contains blocked fragment %q", fragment)}
		}
	}
	return Verdict{Approved: true, Reason: "command allowed"}
}

func checkPath(params types.Params) Verdict {
	path, err := optionalString(params, "path")
	if err != nil {
		return Verdict{Approved: false, Reason: err.Error()}
	}
	if strings.Contains(path, "..") {
		return Verdict{Approved: false, Reason: "path contains '..'"}
	}
	if strings.HasPrefix(path, "/") {
		return Verdict{Approved: false, Reason: "absolute paths are not allowed"}
	}
	return Verdict{Approved: true, Reason: "path allowed"}
}

// optionalString treats a missing key as "" and any non-string value as malformed.
func optionalString(params types.Params, key string) (string, error) {
	v, exists := params[key]
	if !exists {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("malformed %s parameter of type %T", key, v)
	}
	return s, nil
}
