// Package browser drives the single browser session used by browser_action
// requests and by browser recovery.
//
// A Session owns at most one browser, context and page. Every call on a
// PlaywrightSession is serialized, so an action issued while the session is
// being restarted waits until the restart has finished.
//
// Coordinates for click actions are given as "x,y" and must fall inside the
// viewport (900x600 by default).
package browser
