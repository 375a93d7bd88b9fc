// Package browsertest provides an in-memory browser.Session for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/macpilot/pkg/tools/browser"
)

// Call records one method invocation on the fake session.
type Call struct {
	Method string
	Args   []any
}

// Session is a scriptable browser.Session. Errors queued for a method are
// returned by successive calls, one per call.
type Session struct {
	mu                sync.Mutex
	connected         bool
	calls             []Call
	errs              map[string][]error
	logs              []string
	viewport          browser.Viewport
	defaultNavTimeout time.Duration
	navTimeout        time.Duration
	screenshots       int
}

// NewSession creates a disconnected fake with the default viewport.
func NewSession() *Session {
	return &Session{
		errs:              map[string][]error{},
		viewport:          browser.Viewport{Width: browser.DefaultViewportWidth, Height: browser.DefaultViewportHeight},
		defaultNavTimeout: browser.DefaultNavigationTimeout,
		navTimeout:        browser.DefaultNavigationTimeout,
	}
}

// FailNext queues err for the next call of method.
func (s *Session) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[method] = append(s.errs[method], err)
}

// AddLog appends a console line.
func (s *Session) AddLog(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, line)
}

// SetConnected forces the connected flag.
func (s *Session) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// Calls returns the recorded invocations.
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Methods returns the names of the recorded invocations in order.
func (s *Session) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.Method)
	}
	return out
}

// record logs the call and pops a queued error. Callers hold s.mu.
func (s *Session) record(method string, args ...any) error {
	s.calls = append(s.calls, Call{Method: method, Args: args})
	queue := s.errs[method]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	s.errs[method] = queue[1:]
	return err
}

func (s *Session) Launch(_ context.Context, url string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Launch", url, timeout); err != nil {
		return err
	}
	if url == "" {
		return fmt.Errorf("no URL provided")
	}
	s.connected = true
	return nil
}

func (s *Session) Click(_ context.Context, x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Click", x, y); err != nil {
		return err
	}
	if !s.connected {
		return fmt.Errorf("browser not initialized")
	}
	return nil
}

func (s *Session) Type(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Type", text); err != nil {
		return err
	}
	if !s.connected {
		return fmt.Errorf("browser not initialized")
	}
	return nil
}

func (s *Session) Scroll(_ context.Context, dir browser.Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Scroll", dir); err != nil {
		return err
	}
	if !s.connected {
		return fmt.Errorf("browser not initialized")
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.record("Close")
	s.connected = false
	return err
}

// Restart records a Close and a Launch under one lock, running beforeLaunch
// in between.
func (s *Session) Restart(ctx context.Context, url string, timeout time.Duration, beforeLaunch func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.record("Close")
	s.connected = false
	if beforeLaunch != nil {
		if err := beforeLaunch(ctx); err != nil {
			return err
		}
	}
	if err := s.record("Launch", url, timeout); err != nil {
		return err
	}
	if url == "" {
		return fmt.Errorf("no URL provided")
	}
	s.connected = true
	return nil
}

func (s *Session) Screenshot(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Screenshot"); err != nil {
		return "", err
	}
	if !s.connected {
		return "", nil
	}
	s.screenshots++
	return fmt.Sprintf("screenshots/screenshot_%d.png", s.screenshots), nil
}

func (s *Session) Logs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.logs))
	copy(out, s.logs)
	return out
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) Viewport() browser.Viewport {
	return s.viewport
}

func (s *Session) SetNavigationTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "SetNavigationTimeout", Args: []any{d}})
	s.navTimeout = d
}

func (s *Session) ResetNavigationTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "ResetNavigationTimeout"})
	s.navTimeout = s.defaultNavTimeout
}

// NavigationTimeout returns the timeout currently in effect.
func (s *Session) NavigationTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navTimeout
}

var _ browser.Session = (*Session)(nil)
