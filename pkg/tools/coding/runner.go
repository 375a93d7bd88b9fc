package coding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ProcessOutput is the captured result of a finished process.
type ProcessOutput struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ProcessRunner spawns shell commands.
type ProcessRunner interface {
	Run(ctx context.Context, command, cwd string) (ProcessOutput, error)
}

// ShellRunner runs commands through `sh -c`. It applies no timeout of its
// own; callers bound the run through ctx.
type ShellRunner struct {
	shell string
}

// NewShellRunner creates a runner using /bin/sh.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{shell: "sh"}
}

// Run executes command in cwd. A non-zero exit is reported through
// ExitCode, not as an error; errors mean the process could not be started
// or was cut short by ctx.
func (r *ShellRunner) Run(ctx context.Context, command, cwd string) (ProcessOutput, error) {
	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	cmd.Dir = cwd
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := ProcessOutput{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		out.ExitCode = -1
		return out, fmt.Errorf("command timeout: %w", ctxErr)
	case ctxErr != nil:
		out.ExitCode = -1
		return out, fmt.Errorf("command canceled: %w", ctxErr)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		out.ExitCode = -1
		return out, fmt.Errorf("failed to start command: %w", err)
	}
	return out, nil
}
