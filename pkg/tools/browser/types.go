package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Default session settings
const (
	DefaultViewportWidth     = 900
	DefaultViewportHeight    = 600
	DefaultNavigationTimeout = 30 * time.Second
	DefaultUserAgent         = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	// readyTimeout bounds the wait for document.readyState after navigation
	readyTimeout = 10 * time.Second
	// settleTimeout bounds the wait for navigation triggered by a click
	settleTimeout = 10 * time.Second
	// scrollPause lets smooth scrolling finish before the screenshot
	scrollPause = 500 * time.Millisecond
)

// Action is a browser_action sub-command.
type Action string

const (
	ActionLaunch     Action = "launch"
	ActionClick      Action = "click"
	ActionType       Action = "type"
	ActionScrollDown Action = "scroll_down"
	ActionScrollUp   Action = "scroll_up"
	ActionClose      Action = "close"
)

// Direction is the scroll direction.
type Direction int

const (
	ScrollDown Direction = iota
	ScrollUp
)

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// Contains reports whether the point lies inside the viewport, edges included.
func (v Viewport) Contains(x, y int) bool {
	return x >= 0 && x <= v.Width && y >= 0 && y <= v.Height
}

// ActionResult is the structured payload returned for a browser action.
type ActionResult struct {
	Screenshot string   `json:"screenshot"`
	Logs       []string `json:"logs"`
}

// Session is the browser collaborator used by the executor and recovery.
type Session interface {
	// Launch starts the browser if needed and navigates to url. A zero
	// timeout uses the current navigation timeout.
	Launch(ctx context.Context, url string, timeout time.Duration) error
	Click(ctx context.Context, x, y int) error
	Type(ctx context.Context, text string) error
	Scroll(ctx context.Context, dir Direction) error
	// Close tears down the browser. Closing a closed session is a no-op.
	Close() error
	// Restart closes the browser, runs beforeLaunch and launches again at
	// url without releasing the session in between. beforeLaunch must not
	// call back into the session.
	Restart(ctx context.Context, url string, timeout time.Duration, beforeLaunch func(context.Context) error) error
	// Screenshot writes the current page to a file and returns its path.
	// It returns "" when no page is open.
	Screenshot(ctx context.Context) (string, error)
	// Logs returns a copy of the console and page errors captured since launch.
	Logs() []string
	Connected() bool
	Viewport() Viewport
	// SetNavigationTimeout overrides the navigation timeout until
	// ResetNavigationTimeout is called.
	SetNavigationTimeout(d time.Duration)
	ResetNavigationTimeout()
}

// ParseCoordinate parses an "x,y" coordinate and checks it against the viewport.
func ParseCoordinate(coord string, vp Viewport) (x, y int, err error) {
	if strings.TrimSpace(coord) == "" {
		return 0, 0, fmt.Errorf("no coordinates provided")
	}
	parts := strings.Split(coord, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid coordinates format: %q", coord)
	}
	x, errX := strconv.Atoi(strings.TrimSpace(parts[0]))
	y, errY := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errX != nil || errY != nil {
		return 0, 0, fmt.Errorf("invalid coordinates format: %q", coord)
	}
	if !vp.Contains(x, y) {
		return 0, 0, fmt.Errorf("coordinates out of bounds: %d,%d not within %dx%d", x, y, vp.Width, vp.Height)
	}
	return x, y, nil
}
