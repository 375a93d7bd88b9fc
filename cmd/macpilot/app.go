package main

import (
	"fmt"

	"github.com/entrhq/macpilot/pkg/agent"
	"github.com/entrhq/macpilot/pkg/config"
	"github.com/entrhq/macpilot/pkg/executor"
	"github.com/entrhq/macpilot/pkg/history"
	"github.com/entrhq/macpilot/pkg/logging"
	"github.com/entrhq/macpilot/pkg/metrics"
	"github.com/entrhq/macpilot/pkg/recovery"
	"github.com/entrhq/macpilot/pkg/security/safety"
	"github.com/entrhq/macpilot/pkg/security/workspace"
	"github.com/entrhq/macpilot/pkg/system"
	"github.com/entrhq/macpilot/pkg/tools/browser"
	"github.com/entrhq/macpilot/pkg/tools/coding"
)

// app is the fully wired set of components behind one CLI invocation.
type app struct {
	cfg     *config.Config
	agent   *agent.Agent
	history *history.Store
	metrics *metrics.Metrics
	session *browser.PlaywrightSession
	logger  *logging.Logger
}

func newApp(cfg *config.Config) (*app, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logging.Configure(cfg.Logging.Dir, level)
	// NewLogger falls back to stderr on error, which is good enough here
	logger, _ := logging.NewLogger("macpilot")

	guard, err := workspace.NewGuard(cfg.WorkDir)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("invalid work dir: %w", err)
	}

	store, err := history.NewStore(cfg.HistoryPath, history.WithLogger(logger.With("history")))
	if err != nil {
		logger.Close()
		return nil, err
	}

	m := metrics.New()
	session := browser.NewPlaywrightSession(browser.Options{
		Headless:          cfg.Browser.Headless,
		Viewport:          browser.Viewport{Width: cfg.Browser.Width, Height: cfg.Browser.Height},
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		UserAgent:         cfg.Browser.UserAgent,
		CacheDir:          cfg.BrowserCacheDir(),
		ScreenshotDir:     cfg.Browser.ScreenshotDir,
		Logger:            logger.With("browser"),
	})

	exec := executor.New(executor.Dependencies{
		Runner:         coding.NewShellRunner(),
		Files:          coding.NewFileStore(guard),
		Browser:        session,
		CommandTimeout: cfg.Executor.CommandTimeout,
	}, executor.WithLogger(logger.With("executor")), executor.WithMetrics(m))

	actions := recovery.NewActions(recovery.ActionsConfig{
		Browser:                   session,
		Reaper:                    system.NewReaper(logger.With("system")),
		CacheDir:                  cfg.CacheDir,
		BrowserProcessName:        cfg.Browser.ProcessName,
		CleanupProcessNames:       cfg.Recovery.CleanupProcessNames,
		SettleDelay:               cfg.Recovery.SettleDelay,
		ExtensionSettleDelay:      cfg.Recovery.ExtensionSettleDelay,
		RecoveryNavigationTimeout: cfg.Browser.RecoveryNavigationTimeout,
		Logger:                    logger.With("recovery.actions"),
	})
	engine := recovery.NewEngine(actions,
		recovery.WithMaxRetries(cfg.Recovery.MaxRetries),
		recovery.WithRetryDelay(cfg.Recovery.RetryDelay),
		recovery.WithAuditLog(store),
		recovery.WithEngineLogger(logger.With("recovery")),
		recovery.WithEngineMetrics(m),
	)

	ag := agent.New(exec,
		agent.WithAnalyzer(safety.NewAnalyzer(safety.WithLogger(logger.With("safety")))),
		agent.WithRecovery(engine),
		agent.WithHistory(store),
		agent.WithLogger(logger.With("agent")),
		agent.WithMetrics(m),
	)

	logger.Infof("macpilot started: work dir %s, history %s", guard.Root(), store.Path())
	return &app{
		cfg:     cfg,
		agent:   ag,
		history: store,
		metrics: m,
		session: session,
		logger:  logger,
	}, nil
}

// Close stops the browser and flushes the log.
func (a *app) Close() {
	if err := a.session.Shutdown(); err != nil {
		a.logger.Warnf("browser shutdown: %v", err)
	}
	_ = a.logger.Close()
}
