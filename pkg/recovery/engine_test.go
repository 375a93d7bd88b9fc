package recovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/macpilot/pkg/history"
	"github.com/entrhq/macpilot/pkg/types"
)

type step struct {
	ok  bool
	err error
}

// scriptedActions returns the scripted outcomes in order, then repeats the last.
type scriptedActions struct {
	mu       sync.Mutex
	steps    []step
	calls    []types.RecoveryContext
	actions  []types.RecoveryActionKind
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
}

func (s *scriptedActions) Execute(_ context.Context, action types.RecoveryAction, rc types.RecoveryContext) (bool, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if n <= seen || s.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, rc)
	s.actions = append(s.actions, action.Kind)
	i := len(s.calls) - 1
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i].ok, s.steps[i].err
}

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
	err   error
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return r.err
}

type memoryAudit struct {
	records []history.Record
}

func (m *memoryAudit) Append(rec history.Record) error {
	m.records = append(m.records, rec)
	return nil
}

func newTestEngine(actions ActionExecutor, opts ...EngineOption) (*Engine, *recordingSleeper, *memoryAudit) {
	sleeper := &recordingSleeper{}
	audit := &memoryAudit{}
	opts = append([]EngineOption{WithSleeper(sleeper.Sleep), WithAuditLog(audit)}, opts...)
	return NewEngine(actions, opts...), sleeper, audit
}

func TestEngine_ExhaustsWithLinearBackoff(t *testing.T) {
	actions := &scriptedActions{steps: []step{{ok: false}}}
	e, sleeper, _ := newTestEngine(actions)

	res := e.Recover(context.Background(), types.ErrorKindBrowser, "boom", map[string]any{"error": "boom"})

	assert.False(t, res.Success)
	assert.Equal(t, "Recovery failed after 3 attempts", res.Error)
	assert.Equal(t, types.FailureRecoveryExhausted, res.Failure)
	assert.Len(t, actions.calls, 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.waits)
}

func TestEngine_AttemptsAreNumbered(t *testing.T) {
	actions := &scriptedActions{steps: []step{{ok: false}}}
	e, _, _ := newTestEngine(actions, WithMaxRetries(5), WithRetryDelay(100*time.Millisecond))

	e.Recover(context.Background(), types.ErrorKindSystem, "disk", nil)

	require.Len(t, actions.calls, 5)
	for i, rc := range actions.calls {
		assert.Equal(t, i+1, rc.Attempt)
	}
}

func TestEngine_CustomRetryDelay(t *testing.T) {
	actions := &scriptedActions{steps: []step{{ok: false}}}
	e, sleeper, _ := newTestEngine(actions, WithMaxRetries(4), WithRetryDelay(250*time.Millisecond))

	e.Recover(context.Background(), types.ErrorKindExtension, "crash", nil)

	assert.Equal(t, []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, 750 * time.Millisecond}, sleeper.waits)
}

func TestEngine_SucceedsFirstAttempt(t *testing.T) {
	actions := &scriptedActions{steps: []step{{ok: true}}}
	e, sleeper, _ := newTestEngine(actions)

	res := e.Recover(context.Background(), types.ErrorKindBrowser, "Navigation Timeout Exceeded: 30000ms", nil)

	assert.True(t, res.Success)
	assert.Equal(t, types.ActionRestartBrowser, res.ActionTaken)
	assert.Empty(t, res.Error)
	assert.Empty(t, sleeper.waits)
}

func TestEngine_SucceedsAfterRetry(t *testing.T) {
	actions := &scriptedActions{steps: []step{{ok: false}, {ok: true}}}
	e, sleeper, _ := newTestEngine(actions)

	res := e.Recover(context.Background(), types.ErrorKindTool, "exit status 1", map[string]any{"tool": "execute_command"})

	assert.True(t, res.Success)
	assert.Equal(t, types.ActionRetryTool, res.ActionTaken)
	assert.Equal(t, []time.Duration{time.Second}, sleeper.waits)
}

func TestEngine_ActionErrorIsAFailedAttempt(t *testing.T) {
	actions := &scriptedActions{steps: []step{{err: errors.New("launch failed")}, {ok: true}}}
	e, sleeper, _ := newTestEngine(actions)

	res := e.Recover(context.Background(), types.ErrorKindBrowser, "crashed", nil)

	assert.True(t, res.Success)
	assert.Len(t, actions.calls, 2)
	assert.Equal(t, []time.Duration{time.Second}, sleeper.waits)
}

func TestEngine_ActionErrorOnFinalAttemptIsSurfaced(t *testing.T) {
	actions := &scriptedActions{steps: []step{{ok: false}, {ok: false}, {err: errors.New("chrome binary missing")}}}
	e, sleeper, _ := newTestEngine(actions)

	res := e.Recover(context.Background(), types.ErrorKindBrowser, "crashed", nil)

	assert.False(t, res.Success)
	assert.Equal(t, "chrome binary missing", res.Error)
	assert.Equal(t, types.FailureRecoveryExhausted, res.Failure)
	assert.Len(t, sleeper.waits, 2)
}

func TestEngine_UnregisteredKind(t *testing.T) {
	actions := &scriptedActions{steps: []step{{ok: true}}}
	e, sleeper, audit := newTestEngine(actions)

	res := e.Recover(context.Background(), types.ErrorKind("network_error"), "offline", nil)

	assert.False(t, res.Success)
	assert.Equal(t, "No recovery strategy for network_error", res.Error)
	assert.Equal(t, types.FailureRecoveryUnclassified, res.Failure)
	assert.Empty(t, actions.calls)
	assert.Empty(t, sleeper.waits)
	assert.Len(t, audit.records, 1, "unclassified recoveries are still audited")
}

func TestEngine_AuditsEveryRun(t *testing.T) {
	actions := &scriptedActions{steps: []step{{ok: true}}}
	e, _, audit := newTestEngine(actions)

	e.Recover(context.Background(), types.ErrorKindTool, "Permission denied: /x", map[string]any{"tool": "write_to_file"})
	e.Recover(context.Background(), types.ErrorKindSystem, "disk full", nil)

	require.Len(t, audit.records, 2)
	rec := audit.records[0]
	assert.Equal(t, history.KindRecovery, rec.Kind)
	assert.Equal(t, types.ErrorKindTool, rec.Recovery.ErrorKind)
	assert.Equal(t, "Permission denied: /x", rec.Recovery.Error)
	assert.Equal(t, "write_to_file", rec.Recovery.Context["tool"])
}

func TestEngine_MessageUsedWhenContextHasNoError(t *testing.T) {
	actions := &scriptedActions{steps: []step{{ok: true}}}
	e, _, _ := newTestEngine(actions)

	res := e.Recover(context.Background(), types.ErrorKindTool, "Permission denied: /x", map[string]any{"tool": "read_file"})

	assert.Equal(t, types.ActionCleanupSystem, res.ActionTaken)
}

func TestEngine_ActionSeesContextAndParams(t *testing.T) {
	actions := &scriptedActions{steps: []step{{ok: true}}}
	e, _, _ := newTestEngine(actions)
	fields := map[string]any{"error": "navigation failed", "url": "https://example.com", "tool": "browser_action"}

	e.Recover(context.Background(), types.ErrorKindBrowser, "navigation failed", fields)

	require.Len(t, actions.calls, 1)
	rc := actions.calls[0]
	assert.Equal(t, types.ErrorKindBrowser, rc.ErrorKind)
	assert.Equal(t, "navigation failed", rc.RawError)
	assert.Equal(t, "https://example.com", rc.Context["url"])
	assert.Equal(t, 60000, rc.Context["timeout"])
	assert.NotContains(t, fields, "timeout", "caller context must not be modified")
}

func TestEngine_StateTransitions(t *testing.T) {
	actions := &scriptedActions{steps: []step{{ok: false}, {ok: true}}}
	var states []State
	e, _, _ := newTestEngine(actions, WithObserver(func(s State) { states = append(states, s) }))

	e.Recover(context.Background(), types.ErrorKindExtension, "crash", nil)

	assert.Equal(t, []State{
		StateClassifying, StateActionExecuting, StateRetrying,
		StateClassifying, StateActionExecuting, StateSucceeded,
		StateIdle,
	}, states)
	assert.Equal(t, StateIdle, e.State())
}

func TestEngine_ExhaustedStateReached(t *testing.T) {
	actions := &scriptedActions{steps: []step{{ok: false}}}
	var states []State
	e, _, _ := newTestEngine(actions, WithMaxRetries(1), WithObserver(func(s State) { states = append(states, s) }))

	e.Recover(context.Background(), types.ErrorKindExtension, "crash", nil)

	assert.Equal(t, []State{StateClassifying, StateActionExecuting, StateExhausted, StateIdle}, states)
}

func TestEngine_CanceledDuringBackoff(t *testing.T) {
	actions := &scriptedActions{steps: []step{{ok: false}}}
	e, sleeper, _ := newTestEngine(actions)
	sleeper.err = context.Canceled

	res := e.Recover(context.Background(), types.ErrorKindSystem, "disk", nil)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "canceled")
	assert.Len(t, actions.calls, 1)
}

func TestEngine_SerializesRecoveries(t *testing.T) {
	actions := &scriptedActions{steps: []step{{ok: true}}, delay: 20 * time.Millisecond}
	e, _, _ := newTestEngine(actions)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Recover(context.Background(), types.ErrorKindExtension, "crash", nil)
		}()
	}
	wg.Wait()

	assert.Len(t, actions.calls, 5)
	assert.Equal(t, int32(1), actions.maxSeen.Load())
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), 0))
	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
