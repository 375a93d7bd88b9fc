package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolKind(t *testing.T) {
	for _, kind := range AllToolKinds {
		got, ok := ParseToolKind(string(kind))
		assert.True(t, ok)
		assert.Equal(t, kind, got)
	}

	_, ok := ParseToolKind("teleport")
	assert.False(t, ok)
	_, ok = ParseToolKind("")
	assert.False(t, ok)
}

func TestParams_Accessors(t *testing.T) {
	p := Params{"command": "ls", "count": 3, "empty": "", "flag": "true", "num": float64(1)}

	s, ok := p.String("command")
	assert.True(t, ok)
	assert.Equal(t, "ls", s)

	_, ok = p.String("count")
	assert.False(t, ok, "non-string values are not strings")
	_, ok = p.String("missing")
	assert.False(t, ok)

	assert.True(t, p.Has("empty"))
	assert.Equal(t, "", p.StringOr("empty", "def"))
	assert.Equal(t, "def", p.StringOr("missing", "def"))

	assert.True(t, p.Bool("flag"))
	assert.True(t, p.Bool("num"))
	assert.False(t, p.Bool("command"))
	assert.False(t, p.Bool("missing"))
}

func TestToolRequest_IsImmutable(t *testing.T) {
	params := Params{"path": "a.txt"}
	req := NewToolRequest("read_file", params)

	params["path"] = "../secret"
	assert.Equal(t, "a.txt", req.Params()["path"], "construction copies params")

	got := req.Params()
	got["path"] = "/etc/passwd"
	assert.Equal(t, "a.txt", req.Params()["path"], "reads return copies")

	assert.NotEmpty(t, req.ID())
	assert.NotEqual(t, req.ID(), NewToolRequest("read_file", nil).ID())
	assert.False(t, req.SubmittedAt().IsZero())
}

func TestToolRequest_JSON(t *testing.T) {
	req := NewToolRequest("execute_command", Params{"command": "echo hi"})

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tool":"execute_command"`)

	var back ToolRequest
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, req.ID(), back.ID())
	assert.Equal(t, req.Tool(), back.Tool())
	assert.Equal(t, "echo hi", back.Params()["command"])
	assert.True(t, req.SubmittedAt().Equal(back.SubmittedAt()))
}

func TestToolResult_DurationEncoding(t *testing.T) {
	t.Run("timed result carries seconds", func(t *testing.T) {
		res := Succeeded("Hello World")
		res.Duration = 1500 * time.Millisecond

		data, err := json.Marshal(res)
		require.NoError(t, err)
		assert.JSONEq(t, `{"success":true,"output":"Hello World","duration":1.5}`, string(data))

		var back ToolResult
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, res, back)
	})

	t.Run("untimed result omits duration", func(t *testing.T) {
		res := Failed(FailureSafetyDenied, "Permission denied")

		data, err := json.Marshal(res)
		require.NoError(t, err)
		assert.JSONEq(t, `{"success":false,"error":"Permission denied","failure":"safety_denied"}`, string(data))
		assert.False(t, res.Timed())
	})
}

func TestToolResult_Err(t *testing.T) {
	assert.NoError(t, Succeeded("ok").Err())

	err := Failed(FailureUnknownTool, "Unknown tool: %s", "teleport").Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTool))
	assert.Equal(t, "unknown_tool: Unknown tool: teleport", err.Error())

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, FailureUnknownTool, toolErr.Kind)
}

func TestFailureKind_Recoverable(t *testing.T) {
	tests := []struct {
		kind FailureKind
		want bool
	}{
		{FailureExecutionFailed, true},
		{FailureSafetyDenied, false},
		{FailureUnknownTool, false},
		{FailureRecoveryExhausted, false},
		{FailureRecoveryUnclassified, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.Recoverable())
		})
	}
}
