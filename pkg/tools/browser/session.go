package browser

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/macpilot/pkg/logging"
)

// Options configures a PlaywrightSession.
type Options struct {
	Headless          bool
	Viewport          Viewport
	NavigationTimeout time.Duration
	UserAgent         string
	// CacheDir receives the browser disk cache; recovery clears it on restart
	CacheDir      string
	ScreenshotDir string
	// SkipInstall assumes the Playwright driver and browsers are already present
	SkipInstall bool
	Logger      *logging.Logger
}

func (o *Options) setDefaults() {
	if o.Viewport.Width == 0 || o.Viewport.Height == 0 {
		o.Viewport = Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if o.NavigationTimeout == 0 {
		o.NavigationTimeout = DefaultNavigationTimeout
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.ScreenshotDir == "" {
		o.ScreenshotDir = "screenshots"
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
}

// PlaywrightSession is a Session backed by a Chromium instance.
type PlaywrightSession struct {
	mu         sync.Mutex
	opts       Options
	pw         *playwright.Playwright
	browser    playwright.Browser
	context    playwright.BrowserContext
	page       playwright.Page
	navTimeout time.Duration

	// Console handlers run on the driver's goroutine, so logs have their own lock
	logsMu sync.Mutex
	logs   []string
}

// NewPlaywrightSession creates a session. Nothing is started until Launch.
func NewPlaywrightSession(opts Options) *PlaywrightSession {
	opts.setDefaults()
	return &PlaywrightSession{
		opts:       opts,
		navTimeout: opts.NavigationTimeout,
	}
}

// initialize starts the Playwright driver once per session object.
func (s *PlaywrightSession) initialize() error {
	if s.pw != nil {
		return nil
	}

	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if !s.opts.SkipInstall {
		if err := playwright.Install(runOpts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}
	s.pw = pw
	return nil
}

func (s *PlaywrightSession) launchArgs() []string {
	args := []string{
		fmt.Sprintf("--window-size=%d,%d", s.opts.Viewport.Width, s.opts.Viewport.Height),
		"--no-sandbox",
		"--disable-setuid-sandbox",
		"--disable-dev-shm-usage",
		"--disable-gpu",
	}
	if s.opts.CacheDir != "" {
		args = append(args, "--disk-cache-dir="+s.opts.CacheDir)
	}
	return args
}

// setup launches the browser, context and page when none is open.
func (s *PlaywrightSession) setup() error {
	if s.page != nil {
		return nil
	}
	if err := s.initialize(); err != nil {
		return err
	}

	headless := s.opts.Headless
	browser, err := s.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
		Args:     s.launchArgs(),
	})
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  s.opts.Viewport.Width,
			Height: s.opts.Viewport.Height,
		},
		UserAgent: playwright.String(s.opts.UserAgent),
	})
	if err != nil {
		browser.Close()
		return fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		return fmt.Errorf("failed to create page: %w", err)
	}

	s.resetLogs()
	page.OnConsole(func(msg playwright.ConsoleMessage) {
		s.appendLog(fmt.Sprintf("%s: %s", msg.Type(), msg.Text()))
	})
	page.OnPageError(func(err error) {
		s.appendLog(fmt.Sprintf("Page error: %v", err))
	})
	page.SetDefaultNavigationTimeout(float64(s.navTimeout.Milliseconds()))

	s.browser = browser
	s.context = bctx
	s.page = page
	s.opts.Logger.Infof("browser launched (headless=%t, viewport=%dx%d)", headless, s.opts.Viewport.Width, s.opts.Viewport.Height)
	return nil
}

// Launch implements Session.
func (s *PlaywrightSession) Launch(ctx context.Context, url string, timeout time.Duration) error {
	if url == "" {
		return fmt.Errorf("no URL provided")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launchLocked(url, timeout)
}

// Restart implements Session. The session lock is held from teardown until
// the relaunch finishes, so concurrent calls wait for the new browser.
func (s *PlaywrightSession) Restart(ctx context.Context, url string, timeout time.Duration, beforeLaunch func(context.Context) error) error {
	if url == "" {
		return fmt.Errorf("no URL provided")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardown()
	if beforeLaunch != nil {
		if err := beforeLaunch(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.launchLocked(url, timeout)
}

// launchLocked starts the browser and navigates to url. Callers hold s.mu.
func (s *PlaywrightSession) launchLocked(url string, timeout time.Duration) error {
	if err := s.setup(); err != nil {
		s.teardown()
		return err
	}
	if timeout <= 0 {
		timeout = s.navTimeout
	}

	waitUntil := playwright.WaitUntilState("networkidle")
	resp, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: &waitUntil,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		s.opts.Logger.Errorf("error navigating to %s: %v", url, err)
		s.teardown()
		return fmt.Errorf("navigation failed: %w", err)
	}
	if resp != nil && !resp.Ok() {
		s.teardown()
		return fmt.Errorf("navigation failed: %d %s", resp.Status(), resp.StatusText())
	}

	_, err = s.page.WaitForFunction(`document.readyState === "complete"`, nil, playwright.PageWaitForFunctionOptions{
		Timeout: playwright.Float(float64(readyTimeout.Milliseconds())),
	})
	if err != nil {
		s.teardown()
		return fmt.Errorf("page did not become ready: %w", err)
	}
	return nil
}

// Click implements Session.
func (s *PlaywrightSession) Click(ctx context.Context, x, y int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.opts.Viewport.Contains(x, y) {
		return fmt.Errorf("coordinates out of bounds: %d,%d", x, y)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		return fmt.Errorf("browser not initialized")
	}
	if err := s.page.Mouse().Click(float64(x), float64(y)); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}

	// A click may or may not navigate; a timeout here is expected
	state := playwright.LoadState("networkidle")
	_ = s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   &state,
		Timeout: playwright.Float(float64(settleTimeout.Milliseconds())),
	})
	return nil
}

// Type implements Session.
func (s *PlaywrightSession) Type(ctx context.Context, text string) error {
	if text == "" {
		return fmt.Errorf("no text provided")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		return fmt.Errorf("browser not initialized")
	}
	if err := s.page.Keyboard().Type(text); err != nil {
		return fmt.Errorf("type failed: %w", err)
	}
	return nil
}

// Scroll implements Session. It scrolls by one viewport height.
func (s *PlaywrightSession) Scroll(ctx context.Context, dir Direction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		return fmt.Errorf("browser not initialized")
	}

	script := "window.scrollBy(0, window.innerHeight)"
	if dir == ScrollUp {
		script = "window.scrollBy(0, -window.innerHeight)"
	}
	if _, err := s.page.Evaluate(script); err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(scrollPause):
		return nil
	}
}

// Screenshot implements Session.
func (s *PlaywrightSession) Screenshot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		return "", nil
	}
	if err := os.MkdirAll(s.opts.ScreenshotDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create screenshot directory: %w", err)
	}

	name := fmt.Sprintf("screenshot_%s.png", time.Now().Format("20060102_150405.000000"))
	path := filepath.Join(s.opts.ScreenshotDir, name)
	if _, err := s.page.Screenshot(playwright.PageScreenshotOptions{Path: playwright.String(path)}); err != nil {
		return "", fmt.Errorf("screenshot failed: %w", err)
	}
	return path, nil
}

// Close implements Session. The Playwright driver stays up for the next launch.
func (s *PlaywrightSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown()
	return nil
}

// Shutdown closes the browser and stops the Playwright driver.
func (s *PlaywrightSession) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardown()
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		s.pw = nil
	}
	return nil
}

// teardown releases browser resources. Callers hold s.mu.
func (s *PlaywrightSession) teardown() {
	if s.page != nil {
		_ = s.page.Close() // Ignore errors, continue cleanup
	}
	if s.context != nil {
		_ = s.context.Close()
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.opts.Logger.Warnf("error closing browser: %v", err)
		}
		s.opts.Logger.Infof("browser closed")
	}
	s.page = nil
	s.context = nil
	s.browser = nil
}

// Connected implements Session.
func (s *PlaywrightSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browser != nil && s.browser.IsConnected()
}

// Viewport implements Session.
func (s *PlaywrightSession) Viewport() Viewport {
	return s.opts.Viewport
}

// SetNavigationTimeout implements Session.
func (s *PlaywrightSession) SetNavigationTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyNavigationTimeout(d)
}

// ResetNavigationTimeout implements Session.
func (s *PlaywrightSession) ResetNavigationTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyNavigationTimeout(s.opts.NavigationTimeout)
}

func (s *PlaywrightSession) applyNavigationTimeout(d time.Duration) {
	s.navTimeout = d
	if s.page != nil {
		s.page.SetDefaultNavigationTimeout(float64(d.Milliseconds()))
	}
}

// NavigationTimeout returns the timeout currently applied to navigation.
func (s *PlaywrightSession) NavigationTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navTimeout
}

// Logs implements Session.
func (s *PlaywrightSession) Logs() []string {
	s.logsMu.Lock()
	defer s.logsMu.Unlock()
	out := make([]string, len(s.logs))
	copy(out, s.logs)
	return out
}

func (s *PlaywrightSession) appendLog(line string) {
	s.logsMu.Lock()
	defer s.logsMu.Unlock()
	s.logs = append(s.logs, line)
}

func (s *PlaywrightSession) resetLogs() {
	s.logsMu.Lock()
	defer s.logsMu.Unlock()
	s.logs = nil
}
