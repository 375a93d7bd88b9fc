package recovery

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/entrhq/macpilot/pkg/logging"
	"github.com/entrhq/macpilot/pkg/system"
	"github.com/entrhq/macpilot/pkg/tools/browser"
	"github.com/entrhq/macpilot/pkg/types"
)

// ActionsConfig wires the recovery actions to their resources.
type ActionsConfig struct {
	Browser browser.Session
	Reaper  system.ProcessReaper
	// CacheDir is the cache root; its browser/ and tools/ subdirectories
	// are purged by restarts and cleanups
	CacheDir string
	// BrowserProcessName is matched against OS processes on a forced restart
	BrowserProcessName string
	// CleanupProcessNames are terminated (current user only) by a full cleanup
	CleanupProcessNames       []string
	SettleDelay               time.Duration
	ExtensionSettleDelay      time.Duration
	RecoveryNavigationTimeout time.Duration
	Sleeper                   Sleeper
	Logger                    *logging.Logger
}

// Actions executes recovery actions against the browser session, the
// process table and the cache directory.
type Actions struct {
	cfg ActionsConfig
}

// NewActions creates the action executor.
func NewActions(cfg ActionsConfig) *Actions {
	if cfg.BrowserProcessName == "" {
		cfg.BrowserProcessName = "chrome"
	}
	if cfg.RecoveryNavigationTimeout == 0 {
		cfg.RecoveryNavigationTimeout = 60 * time.Second
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = Sleep
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Actions{cfg: cfg}
}

// Execute implements ActionExecutor.
func (a *Actions) Execute(ctx context.Context, action types.RecoveryAction, rc types.RecoveryContext) (bool, error) {
	switch action.Kind {
	case types.ActionRestartBrowser:
		return a.RestartBrowser(ctx, rc)
	case types.ActionRetryTool:
		return a.RetryTool(ctx, rc)
	case types.ActionRestartExtension:
		return a.RestartExtension(ctx, rc)
	case types.ActionCleanupSystem:
		return a.CleanupSystem(ctx, rc)
	default:
		return false, fmt.Errorf("unknown recovery action: %s", action.Kind)
	}
}

func (a *Actions) browserCacheDir() string {
	return filepath.Join(a.cfg.CacheDir, "browser")
}

func (a *Actions) toolsCacheDir() string {
	return filepath.Join(a.cfg.CacheDir, "tools")
}

// RestartBrowser closes and relaunches the browser session. With "force" set
// it first terminates matching browser processes. When "url" is present the
// new session navigates there with the recovery navigation timeout. The whole
// sequence runs inside Session.Restart, so browser calls from other requests
// wait for the relaunch instead of hitting a closed session.
//
// A relaunch the driver rejects is reported as (false, nil) and left to the
// engine's retry loop. Errors are reserved for a missing session and
// cancellation.
func (a *Actions) RestartBrowser(ctx context.Context, rc types.RecoveryContext) (bool, error) {
	if a.cfg.Browser == nil {
		return false, errors.New("no browser session configured")
	}
	log := a.cfg.Logger
	log.Infof("restarting browser (attempt %d)", rc.Attempt)

	url := rc.String("url")
	if url == "" {
		url = "about:blank"
	}

	force := rc.Bool("force")
	var settleErr error
	err := a.cfg.Browser.Restart(ctx, url, a.cfg.RecoveryNavigationTimeout, func(ctx context.Context) error {
		if force && a.cfg.Reaper != nil {
			n, err := a.cfg.Reaper.TerminateByName(ctx, a.cfg.BrowserProcessName)
			if err != nil {
				log.Warnf("force close of %s processes incomplete: %v", a.cfg.BrowserProcessName, err)
			}
			log.Infof("terminated %d %s processes", n, a.cfg.BrowserProcessName)
		}
		if a.cfg.CacheDir != "" {
			a.purgeDir(a.browserCacheDir())
		}
		settleErr = a.cfg.Sleeper(ctx, a.cfg.SettleDelay)
		return settleErr
	})
	if settleErr != nil {
		return false, settleErr
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		log.Warnf("failed to restart browser: %v", err)
		return false, nil
	}
	if !a.cfg.Browser.Connected() {
		log.Warnf("failed to restart browser: session not connected")
		return false, nil
	}

	log.Infof("browser restarted")
	return true, nil
}

// RetryTool re-runs the browser sub-actions that are safe to repeat
// directly (launch, click, scroll) after waiting attempt seconds. Other
// tools are left for the caller to re-dispatch; the action only clears the
// way. A "timeout" in milliseconds overrides the navigation timeout for the
// duration of the retry. A sub-action the browser rejects yields (false, nil).
func (a *Actions) RetryTool(ctx context.Context, rc types.RecoveryContext) (bool, error) {
	tool, params := requestFromContext(rc)
	if tool == "" {
		return false, errors.New("no tool specified")
	}
	log := a.cfg.Logger
	log.Infof("retrying %s (attempt %d)", tool, rc.Attempt)

	if ms, has := millis(rc.Context["timeout"]); has && a.cfg.Browser != nil {
		a.cfg.Browser.SetNavigationTimeout(time.Duration(ms) * time.Millisecond)
		defer a.cfg.Browser.ResetNavigationTimeout()
	}

	if err := a.cfg.Sleeper(ctx, time.Duration(rc.Attempt)*time.Second); err != nil {
		return false, err
	}

	if tool != string(types.ToolBrowserAction) || a.cfg.Browser == nil {
		return true, nil
	}

	action, _ := params.String("action")
	var err error
	switch browser.Action(action) {
	case browser.ActionLaunch:
		if url, has := params.String("url"); has && rc.String("url") == "" {
			fields := maps.Clone(rc.Context)
			if fields == nil {
				fields = map[string]any{}
			}
			fields["url"] = url
			rc.Context = fields
		}
		return a.RestartBrowser(ctx, rc)
	case browser.ActionClick:
		coord, _ := params.String("coordinate")
		var x, y int
		if x, y, err = browser.ParseCoordinate(coord, a.cfg.Browser.Viewport()); err == nil {
			err = a.cfg.Browser.Click(ctx, x, y)
		}
	case browser.ActionScrollDown:
		err = a.cfg.Browser.Scroll(ctx, browser.ScrollDown)
	case browser.ActionScrollUp:
		err = a.cfg.Browser.Scroll(ctx, browser.ScrollUp)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		log.Warnf("retry of %s %s failed: %v", tool, action, err)
		return false, nil
	}
	return true, nil
}

// RestartExtension terminates the process in "pid" (best effort) and waits
// for the host to relaunch it.
func (a *Actions) RestartExtension(ctx context.Context, rc types.RecoveryContext) (bool, error) {
	a.cfg.Logger.Infof("restarting extension (attempt %d)", rc.Attempt)

	if pid, has := pidFromContext(rc.Context["pid"]); has && a.cfg.Reaper != nil {
		if err := a.cfg.Reaper.TerminatePID(ctx, pid); err != nil {
			a.cfg.Logger.Warnf("could not terminate extension process %d: %v", pid, err)
		}
	}

	if err := a.cfg.Sleeper(ctx, a.cfg.ExtensionSettleDelay); err != nil {
		return false, err
	}
	return true, nil
}

// CleanupSystem reclaims resources. With "full" it closes the browser,
// terminates automation processes of the current user and purges the
// browser and tools caches; otherwise it cleans up after "tool" only. The
// cache root is cleared either way.
func (a *Actions) CleanupSystem(ctx context.Context, rc types.RecoveryContext) (bool, error) {
	log := a.cfg.Logger
	log.Infof("cleaning up system resources (attempt %d, full=%t)", rc.Attempt, rc.Bool("full"))

	if rc.Bool("full") {
		a.cleanupAll(ctx)
	} else if tool := rc.String("tool"); tool != "" {
		a.cleanupTool(tool)
	}

	if a.cfg.CacheDir != "" {
		a.purgeDir(a.cfg.CacheDir)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (a *Actions) cleanupAll(ctx context.Context) {
	if a.cfg.Browser != nil {
		if err := a.cfg.Browser.Close(); err != nil {
			a.cfg.Logger.Warnf("error closing browser: %v", err)
		}
	}
	if a.cfg.Reaper != nil && len(a.cfg.CleanupProcessNames) > 0 {
		n, err := a.cfg.Reaper.TerminateUserProcesses(ctx, a.cfg.CleanupProcessNames)
		if err != nil {
			a.cfg.Logger.Warnf("process cleanup incomplete: %v", err)
		}
		a.cfg.Logger.Infof("terminated %d user processes", n)
	}
	if a.cfg.CacheDir != "" {
		a.purgeDir(a.browserCacheDir())
		a.purgeDir(a.toolsCacheDir())
	}
}

func (a *Actions) cleanupTool(tool string) {
	switch types.ToolKind(tool) {
	case types.ToolBrowserAction:
		if a.cfg.Browser != nil {
			if err := a.cfg.Browser.Close(); err != nil {
				a.cfg.Logger.Warnf("error closing browser: %v", err)
			}
		}
	default:
		if a.cfg.CacheDir != "" {
			a.purgeDir(a.toolsCacheDir())
		}
	}
}

// purgeDir removes everything inside dir, keeping dir itself. Individual
// failures are logged and skipped.
func (a *Actions) purgeDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			a.cfg.Logger.Warnf("cannot read %s: %v", dir, err)
		}
		return
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			a.cfg.Logger.Debugf("could not remove %s: %v", path, err)
		}
	}
}

// requestFromContext resolves the tool and params of the failed request,
// falling back to a nested "request" entry.
func requestFromContext(rc types.RecoveryContext) (string, types.Params) {
	tool := rc.String("tool")
	params := toParams(rc.Context["params"])

	switch req := rc.Context["request"].(type) {
	case types.ToolRequest:
		if tool == "" {
			tool = req.Tool()
		}
		if len(params) == 0 {
			params = req.Params()
		}
	case map[string]any:
		if tool == "" {
			tool, _ = req["tool"].(string)
		}
		if len(params) == 0 {
			params = toParams(req["params"])
		}
	}
	return tool, params
}

func toParams(v any) types.Params {
	switch p := v.(type) {
	case types.Params:
		return p
	case map[string]any:
		return types.Params(p)
	default:
		return types.Params{}
	}
}

// millis reads a positive millisecond count from a JSON or Go number.
func millis(v any) (int64, bool) {
	var ms int64
	switch n := v.(type) {
	case int:
		ms = int64(n)
	case int64:
		ms = n
	case float64:
		ms = int64(n)
	case time.Duration:
		ms = n.Milliseconds()
	default:
		return 0, false
	}
	return ms, ms > 0
}

func pidFromContext(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, n > 0
	case int32:
		return int(n), n > 0
	case int64:
		return int(n), n > 0
	case float64:
		return int(n), n > 0
	default:
		return 0, false
	}
}
