package types

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ToolKind identifies one of the automatable actions the engine knows how to run.
type ToolKind string

const (
	// ToolExecuteCommand runs a shell command in the working directory
	ToolExecuteCommand ToolKind = "execute_command"
	// ToolWriteToFile creates or overwrites a file
	ToolWriteToFile ToolKind = "write_to_file"
	// ToolReadFile returns the contents of a file
	ToolReadFile ToolKind = "read_file"
	// ToolListFiles lists files below a directory
	ToolListFiles ToolKind = "list_files"
	// ToolSearchFiles greps a directory tree with a regular expression
	ToolSearchFiles ToolKind = "search_files"
	// ToolBrowserAction drives the browser session
	ToolBrowserAction ToolKind = "browser_action"
)

// AllToolKinds lists every tool kind. Executors must register a handler for each.
var AllToolKinds = []ToolKind{
	ToolExecuteCommand,
	ToolWriteToFile,
	ToolReadFile,
	ToolListFiles,
	ToolSearchFiles,
	ToolBrowserAction,
}

// ParseToolKind maps a tool name to its kind. The second return value is
// false for names the engine does not know.
func ParseToolKind(name string) (ToolKind, bool) {
	for _, k := range AllToolKinds {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}

// String returns the tool name
func (k ToolKind) String() string {
	return string(k)
}

// Params holds the parameters of a tool request.
type Params map[string]any

// Clone returns a shallow copy of the parameters.
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	return maps.Clone(p)
}

// Has reports whether key is present, even with an empty value.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String returns the value for key when it is a string.
// ok is false when the key is missing or holds another type.
func (p Params) String(key string) (string, bool) {
	v, exists := p[key]
	if !exists {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// StringOr returns the string value for key, or def when absent or not a string.
func (p Params) StringOr(key, def string) string {
	if s, ok := p.String(key); ok {
		return s
	}
	return def
}

// Bool interprets the value for key as a boolean. Strings such as "true"
// and "1" are accepted since CLI callers pass everything as text.
func (p Params) Bool(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	case float64:
		return v != 0
	case int:
		return v != 0
	default:
		return false
	}
}

// ToolRequest is a single tool invocation. It is immutable once created:
// the parameters are copied on the way in and on the way out.
type ToolRequest struct {
	id          string
	tool        string
	params      Params
	submittedAt time.Time
}

// NewToolRequest creates a request for the named tool.
func NewToolRequest(tool string, params Params) ToolRequest {
	return ToolRequest{
		id:          uuid.New().String(),
		tool:        tool,
		params:      params.Clone(),
		submittedAt: time.Now(),
	}
}

// ID returns the unique request identifier
func (r ToolRequest) ID() string { return r.id }

// Tool returns the requested tool name, which may not be a known ToolKind
func (r ToolRequest) Tool() string { return r.tool }

// Params returns a copy of the request parameters
func (r ToolRequest) Params() Params { return r.params.Clone() }

// SubmittedAt returns the creation time of the request
func (r ToolRequest) SubmittedAt() time.Time { return r.submittedAt }

type toolRequestJSON struct {
	ID          string    `json:"id"`
	Tool        string    `json:"tool"`
	Params      Params    `json:"params"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// MarshalJSON encodes the request for the audit log.
func (r ToolRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(toolRequestJSON{
		ID:          r.id,
		Tool:        r.tool,
		Params:      r.params,
		SubmittedAt: r.submittedAt,
	})
}

// UnmarshalJSON decodes a request read back from the audit log.
func (r *ToolRequest) UnmarshalJSON(data []byte) error {
	var raw toolRequestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = ToolRequest{
		id:          raw.ID,
		tool:        raw.Tool,
		params:      raw.Params.Clone(),
		submittedAt: raw.SubmittedAt,
	}
	return nil
}

// ToolResult is the uniform outcome of a tool request.
// Duration is zero when the request never reached a handler.
type ToolResult struct {
	Success  bool
	Output   string
	Error    string
	Duration time.Duration
	Failure  FailureKind
}

// Succeeded builds a successful result.
func Succeeded(output string) ToolResult {
	return ToolResult{Success: true, Output: output}
}

// Failed builds a failed result of the given kind.
func Failed(kind FailureKind, format string, args ...any) ToolResult {
	return ToolResult{Success: false, Error: fmt.Sprintf(format, args...), Failure: kind}
}

// Timed reports whether a handler actually ran for this result.
func (r ToolResult) Timed() bool {
	return r.Duration > 0
}

// Err converts a failed result into an error carrying its failure kind.
// It returns nil for successful results.
func (r ToolResult) Err() error {
	if r.Success {
		return nil
	}
	return &ToolError{Kind: r.Failure, Message: r.Error}
}

type toolResultJSON struct {
	Success  bool        `json:"success"`
	Output   string      `json:"output,omitempty"`
	Error    string      `json:"error,omitempty"`
	Duration *float64    `json:"duration,omitempty"`
	Failure  FailureKind `json:"failure,omitempty"`
}

// MarshalJSON renders the duration as float seconds and omits it when unset.
func (r ToolResult) MarshalJSON() ([]byte, error) {
	out := toolResultJSON{
		Success: r.Success,
		Output:  r.Output,
		Error:   r.Error,
		Failure: r.Failure,
	}
	if r.Timed() {
		secs := r.Duration.Seconds()
		out.Duration = &secs
	}
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON.
func (r *ToolResult) UnmarshalJSON(data []byte) error {
	var raw toolResultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = ToolResult{
		Success: raw.Success,
		Output:  raw.Output,
		Error:   raw.Error,
		Failure: raw.Failure,
	}
	if raw.Duration != nil {
		r.Duration = time.Duration(*raw.Duration * float64(time.Second))
	}
	return nil
}
