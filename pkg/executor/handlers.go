package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/entrhq/macpilot/pkg/tools/browser"
	"github.com/entrhq/macpilot/pkg/tools/coding"
	"github.com/entrhq/macpilot/pkg/types"
)

// DefaultCommandTimeout bounds execute_command when no timeout is configured.
const DefaultCommandTimeout = 30 * time.Second

// Dependencies are the resource drivers behind the built-in handlers.
type Dependencies struct {
	Runner         coding.ProcessRunner
	Files          *coding.FileStore
	Browser        browser.Session
	CommandTimeout time.Duration
}

func (d Dependencies) handlers() map[types.ToolKind]Handler {
	timeout := d.CommandTimeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	handlers := map[types.ToolKind]Handler{}
	if d.Runner != nil && d.Files != nil {
		handlers[types.ToolExecuteCommand] = &commandHandler{runner: d.Runner, cwd: d.Files.Root(), timeout: timeout}
	}
	if d.Files != nil {
		handlers[types.ToolWriteToFile] = HandlerFunc(writeFileHandler(d.Files))
		handlers[types.ToolReadFile] = HandlerFunc(readFileHandler(d.Files))
		handlers[types.ToolListFiles] = HandlerFunc(listFilesHandler(d.Files))
		handlers[types.ToolSearchFiles] = HandlerFunc(searchFilesHandler(d.Files))
	}
	if d.Browser != nil {
		handlers[types.ToolBrowserAction] = &browserHandler{session: d.Browser}
	}
	return handlers
}

type commandHandler struct {
	runner  coding.ProcessRunner
	cwd     string
	timeout time.Duration
}

func (h *commandHandler) Handle(ctx context.Context, params types.Params) types.ToolResult {
	command, _ := params.String("command")
	if command == "" {
		return types.Failed(types.FailureExecutionFailed, "No command provided")
	}

	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	out, err := h.runner.Run(runCtx, command, h.cwd)
	stderr := strings.TrimSpace(out.Stderr)
	if err != nil {
		if stderr != "" {
			return types.Failed(types.FailureExecutionFailed, "%v: %s", err, stderr)
		}
		return types.Failed(types.FailureExecutionFailed, "%v", err)
	}
	if out.ExitCode != 0 {
		if stderr == "" {
			return types.Failed(types.FailureExecutionFailed, "Command failed with exit code %d", out.ExitCode)
		}
		return types.Failed(types.FailureExecutionFailed, "%s", stderr)
	}
	return types.Succeeded(strings.TrimSpace(out.Stdout))
}

func writeFileHandler(files *coding.FileStore) HandlerFunc {
	return func(_ context.Context, params types.Params) types.ToolResult {
		path, _ := params.String("path")
		content, hasContent := params.String("content")
		if path == "" || !hasContent {
			return types.Failed(types.FailureExecutionFailed, "Missing path or content")
		}

		n, err := files.Write(path, content)
		if err != nil {
			return types.Failed(types.FailureExecutionFailed, "%v", err)
		}
		return types.Succeeded(fmt.Sprintf("Wrote %d bytes to %s", n, path))
	}
}

func readFileHandler(files *coding.FileStore) HandlerFunc {
	return func(_ context.Context, params types.Params) types.ToolResult {
		path, _ := params.String("path")
		if path == "" {
			return types.Failed(types.FailureExecutionFailed, "No path provided")
		}

		content, err := files.Read(path)
		if err != nil {
			return types.Failed(types.FailureExecutionFailed, "%v", err)
		}
		return types.Succeeded(content)
	}
}

func listFilesHandler(files *coding.FileStore) HandlerFunc {
	return func(_ context.Context, params types.Params) types.ToolResult {
		path, _ := params.String("path")
		if path == "" {
			return types.Failed(types.FailureExecutionFailed, "No path provided")
		}

		entries, err := files.List(path, params.Bool("recursive"))
		if err != nil {
			return types.Failed(types.FailureExecutionFailed, "%v", err)
		}
		return jsonResult(entries)
	}
}

func searchFilesHandler(files *coding.FileStore) HandlerFunc {
	return func(_ context.Context, params types.Params) types.ToolResult {
		path, _ := params.String("path")
		pattern, _ := params.String("regex")
		if path == "" || pattern == "" {
			return types.Failed(types.FailureExecutionFailed, "Missing path or regex")
		}

		re, err := regexp.Compile(pattern)
		if err != nil {
			return types.Failed(types.FailureExecutionFailed, "Invalid regex pattern: %v", err)
		}

		matches, err := files.WalkAndGrep(path, re, params.StringOr("file_pattern", "*"))
		if err != nil {
			return types.Failed(types.FailureExecutionFailed, "%v", err)
		}
		return jsonResult(matches)
	}
}

type browserHandler struct {
	session browser.Session
}

func (h *browserHandler) Handle(ctx context.Context, params types.Params) types.ToolResult {
	action, _ := params.String("action")
	if action == "" {
		return types.Failed(types.FailureExecutionFailed, "No action provided")
	}

	if err := h.dispatch(ctx, browser.Action(action), params); err != nil {
		return types.Failed(types.FailureExecutionFailed, "%v", err)
	}

	// A closed session has no page, so close yields an empty screenshot
	shot, err := h.session.Screenshot(ctx)
	if err != nil {
		shot = ""
	}
	logs := h.session.Logs()
	if logs == nil {
		logs = []string{}
	}
	return jsonResult(browser.ActionResult{Screenshot: shot, Logs: logs})
}

func (h *browserHandler) dispatch(ctx context.Context, action browser.Action, params types.Params) error {
	switch action {
	case browser.ActionLaunch:
		url, _ := params.String("url")
		return h.session.Launch(ctx, url, 0)
	case browser.ActionClick:
		coord, _ := params.String("coordinate")
		x, y, err := browser.ParseCoordinate(coord, h.session.Viewport())
		if err != nil {
			return err
		}
		return h.session.Click(ctx, x, y)
	case browser.ActionType:
		text, _ := params.String("text")
		return h.session.Type(ctx, text)
	case browser.ActionScrollDown:
		return h.session.Scroll(ctx, browser.ScrollDown)
	case browser.ActionScrollUp:
		return h.session.Scroll(ctx, browser.ScrollUp)
	case browser.ActionClose:
		return h.session.Close()
	default:
		return fmt.Errorf("Unknown action: %s", action)
	}
}

func jsonResult(v any) types.ToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return types.Failed(types.FailureExecutionFailed, "failed to encode output: %v", err)
	}
	return types.Succeeded(string(data))
}
