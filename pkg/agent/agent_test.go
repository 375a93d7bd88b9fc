package agent

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/macpilot/pkg/executor"
	"github.com/entrhq/macpilot/pkg/history"
	"github.com/entrhq/macpilot/pkg/metrics"
	"github.com/entrhq/macpilot/pkg/recovery"
	"github.com/entrhq/macpilot/pkg/security/workspace"
	"github.com/entrhq/macpilot/pkg/tools/browser/browsertest"
	"github.com/entrhq/macpilot/pkg/tools/coding"
	"github.com/entrhq/macpilot/pkg/types"
)

func noSleep(context.Context, time.Duration) error { return nil }

type nopReaper struct{}

func (nopReaper) TerminateByName(context.Context, string) (int, error)          { return 0, nil }
func (nopReaper) TerminatePID(context.Context, int) error                       { return nil }
func (nopReaper) TerminateUserProcesses(context.Context, []string) (int, error) { return 0, nil }

type testEnv struct {
	agent   *Agent
	store   *history.Store
	browser *browsertest.Session
	metrics *metrics.Metrics
	root    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	guard, err := workspace.NewGuard(t.TempDir())
	require.NoError(t, err)
	store, err := history.NewStore(filepath.Join(t.TempDir(), "history.jsonl"))
	require.NoError(t, err)

	session := browsertest.NewSession()
	m := metrics.New()

	exec := executor.New(executor.Dependencies{
		Runner:  coding.NewShellRunner(),
		Files:   coding.NewFileStore(guard),
		Browser: session,
	}, executor.WithMetrics(m))

	actions := recovery.NewActions(recovery.ActionsConfig{
		Browser:  session,
		Reaper:   nopReaper{},
		CacheDir: t.TempDir(),
		Sleeper:  noSleep,
	})
	engine := recovery.NewEngine(actions,
		recovery.WithSleeper(noSleep),
		recovery.WithAuditLog(store),
		recovery.WithEngineMetrics(m),
	)

	ag := New(exec,
		WithRecovery(engine),
		WithHistory(store),
		WithMetrics(m),
	)
	return &testEnv{agent: ag, store: store, browser: session, metrics: m, root: guard.Root()}
}

func toolRecords(t *testing.T, store *history.Store) []history.Record {
	t.Helper()
	all, err := store.All()
	require.NoError(t, err)
	var out []history.Record
	for _, rec := range all {
		if rec.Kind == history.KindTool {
			out = append(out, rec)
		}
	}
	return out
}

func TestSubmit_EchoHelloWorld(t *testing.T) {
	env := newTestEnv(t)

	res := env.agent.Submit(context.Background(), "execute_command", types.Params{"command": `echo "Hello World"`})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Hello World", res.Output)
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestSubmit_WriteThenRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	w := env.agent.Submit(ctx, "write_to_file", types.Params{"path": "a/b.txt", "content": "x"})
	require.True(t, w.Success, w.Error)

	r := env.agent.Submit(ctx, "read_file", types.Params{"path": "a/b.txt"})
	require.True(t, r.Success, r.Error)
	assert.Equal(t, "x", r.Output)
}

func TestSubmit_UnknownBinaryNeverSucceeds(t *testing.T) {
	env := newTestEnv(t)

	res := env.agent.Submit(context.Background(), "execute_command", types.Params{"command": "nonexistent_binary_macpilot_test"})

	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, res.Output)
	assert.Contains(t, res.Error, "retry after retry_tool failed")
}

func TestSubmit_DeniedRequests(t *testing.T) {
	tests := []struct {
		name   string
		tool   string
		params types.Params
	}{
		{"rm", "execute_command", types.Params{"command": "rm -rf /tmp"}},
		{"pipe", "execute_command", types.Params{"command": "ls | wc -l"}},
		{"traversal read", "read_file", types.Params{"path": "../etc/passwd"}},
		{"absolute write", "write_to_file", types.Params{"path": "/tmp/x", "content": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			res := env.agent.Submit(context.Background(), tt.tool, tt.params)

			assert.False(t, res.Success)
			assert.Equal(t, PermissionDenied, res.Error)
			assert.Equal(t, types.FailureSafetyDenied, res.Failure)
			assert.Zero(t, res.Duration)
			assert.Equal(t, 1, testutil.CollectAndCount(env.metrics.SafetyDenials))
			assert.Equal(t, 0, testutil.CollectAndCount(env.metrics.ToolExecutions), "denied requests never reach the executor")

			recs := toolRecords(t, env.store)
			require.Len(t, recs, 1)
			require.NotNil(t, recs[0].Approved)
			assert.False(t, *recs[0].Approved)
		})
	}
}

func TestSubmit_DeniedBrowserNeverReachesDriver(t *testing.T) {
	env := newTestEnv(t)

	// browser actions have no policy, so use a denied command and confirm
	// the shared session saw nothing
	env.agent.Submit(context.Background(), "execute_command", types.Params{"command": "sudo open -a Safari"})

	assert.Empty(t, env.browser.Methods())
}

func TestSubmit_UnknownToolSkipsRecovery(t *testing.T) {
	env := newTestEnv(t)

	res := env.agent.Submit(context.Background(), "teleport", types.Params{})

	assert.False(t, res.Success)
	assert.Equal(t, "Unknown tool: teleport", res.Error)
	assert.Equal(t, types.FailureUnknownTool, res.Failure)

	all, err := env.store.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, history.KindTool, all[0].Kind)
}

func TestSubmit_BrowserFailureRecoversAndRetries(t *testing.T) {
	env := newTestEnv(t)
	env.browser.FailNext("Launch", assert.AnError)

	res := env.agent.Submit(context.Background(), "browser_action", types.Params{"action": "launch", "url": "https://example.com"})

	require.True(t, res.Success, res.Error)
	assert.True(t, env.browser.Connected())

	all, err := env.store.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, history.KindRecovery, all[0].Kind)
	assert.Equal(t, types.ErrorKindBrowser, all[0].Recovery.ErrorKind)
	assert.Equal(t, "https://example.com", all[0].Recovery.Context["url"])
	assert.Equal(t, history.KindTool, all[1].Kind)
	assert.True(t, all[1].Result.Success)
}

// stubRecoverer reports a fixed outcome
type stubRecoverer struct {
	result types.RecoveryResult
	calls  int
	kind   types.ErrorKind
	fields map[string]any
}

func (s *stubRecoverer) Recover(_ context.Context, kind types.ErrorKind, _ string, fields map[string]any) types.RecoveryResult {
	s.calls++
	s.kind = kind
	s.fields = fields
	return s.result
}

// countingExecutor fails the first n executions
type countingExecutor struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (c *countingExecutor) Execute(_ context.Context, req types.ToolRequest) types.ToolResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failures {
		res := types.Failed(types.FailureExecutionFailed, "boom %d", c.calls)
		res.Duration = time.Millisecond
		return res
	}
	res := types.Succeeded("ok")
	res.Duration = time.Millisecond
	return res
}

func TestSubmit_RecoveryFailureKeepsBothErrors(t *testing.T) {
	exec := &countingExecutor{failures: 5}
	rec := &stubRecoverer{result: types.RecoveryResult{
		Success: false,
		Error:   "Recovery failed after 3 attempts",
		Failure: types.FailureRecoveryExhausted,
	}}
	ag := New(exec, WithRecovery(rec))

	res := ag.Submit(context.Background(), "execute_command", types.Params{"command": "make"})

	assert.False(t, res.Success)
	assert.Equal(t, "boom 1; recovery failed: Recovery failed after 3 attempts", res.Error)
	assert.Equal(t, types.FailureRecoveryExhausted, res.Failure)
	assert.Equal(t, 1, exec.calls, "no retry after failed recovery")
	assert.Equal(t, types.ErrorKindTool, rec.kind)
	assert.Equal(t, "execute_command", rec.fields["tool"])
	assert.Equal(t, "boom 1", rec.fields["error"])
}

func TestSubmit_RetriesExactlyOnce(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantOK    bool
		wantError string
	}{
		{"retry succeeds", 1, true, ""},
		{"retry fails", 2, false, "retry after retry_tool failed: boom 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &countingExecutor{failures: tt.failures}
			rec := &stubRecoverer{result: types.RecoveryResult{Success: true, ActionTaken: types.ActionRetryTool}}
			ag := New(exec, WithRecovery(rec))

			res := ag.Submit(context.Background(), "execute_command", types.Params{"command": "make"})

			assert.Equal(t, tt.wantOK, res.Success)
			assert.Equal(t, tt.wantError, res.Error)
			assert.Equal(t, 2, exec.calls)
			assert.Equal(t, 1, rec.calls)
		})
	}
}

func TestSubmit_WithoutRecovery(t *testing.T) {
	exec := &countingExecutor{failures: 1}
	ag := New(exec)

	res := ag.Submit(context.Background(), "browser_action", types.Params{"action": "click"})

	assert.False(t, res.Success)
	assert.Equal(t, "boom 1", res.Error)
	assert.Equal(t, 1, exec.calls)
}

func TestSubmit_BrowserFailureClassifiedAsBrowserError(t *testing.T) {
	exec := &countingExecutor{failures: 1}
	rec := &stubRecoverer{result: types.RecoveryResult{Success: true, ActionTaken: types.ActionRestartBrowser}}
	ag := New(exec, WithRecovery(rec))

	ag.Submit(context.Background(), "browser_action", types.Params{"action": "launch", "url": "https://example.com"})

	assert.Equal(t, types.ErrorKindBrowser, rec.kind)
	assert.Equal(t, "https://example.com", rec.fields["url"])
	assert.IsType(t, types.ToolRequest{}, rec.fields["request"])
}

func TestHistory_AppendsInOrderAndClears(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, word := range []string{"one", "two", "three"} {
		res := env.agent.Submit(ctx, "execute_command", types.Params{"command": "echo " + word})
		require.True(t, res.Success, res.Error)
	}

	recs, err := env.agent.GetHistory(0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, word := range []string{"one", "two", "three"} {
		assert.Equal(t, word, recs[i].Result.Output)
		assert.True(t, *recs[i].Approved)
	}

	last, err := env.agent.GetHistory(2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "two", last[0].Result.Output)

	require.NoError(t, env.agent.ClearHistory())
	recs, err = env.agent.GetHistory(0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestHistory_WithoutStore(t *testing.T) {
	ag := New(&countingExecutor{})

	recs, err := ag.GetHistory(10)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.NoError(t, ag.ClearHistory())
}

func TestRecover_Direct(t *testing.T) {
	env := newTestEnv(t)

	res := env.agent.Recover(context.Background(), types.ErrorKindExtension, "extension host crashed", map[string]any{"pid": 0})
	assert.True(t, res.Success)
	assert.Equal(t, types.ActionRestartExtension, res.ActionTaken)

	res = env.agent.Recover(context.Background(), "network_error", "offline", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "No recovery strategy for network_error", res.Error)

	none := New(&countingExecutor{})
	res = none.Recover(context.Background(), types.ErrorKindSystem, "disk", nil)
	assert.False(t, res.Success)
}
