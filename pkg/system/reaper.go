// Package system terminates OS processes on behalf of recovery actions.
package system

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/entrhq/macpilot/pkg/logging"
)

// ProcessReaper terminates processes. Every method is best-effort and
// reports how many processes were signalled.
type ProcessReaper interface {
	// TerminateByName signals every process whose name contains fragment
	// (case-insensitive).
	TerminateByName(ctx context.Context, fragment string) (int, error)
	// TerminatePID signals a single process.
	TerminatePID(ctx context.Context, pid int) error
	// TerminateUserProcesses signals processes owned by the current user
	// whose name contains any of the fragments.
	TerminateUserProcesses(ctx context.Context, fragments []string) (int, error)
}

// processHandle is the subset of *process.Process the reaper needs.
type processHandle interface {
	NameWithContext(ctx context.Context) (string, error)
	UsernameWithContext(ctx context.Context) (string, error)
	TerminateWithContext(ctx context.Context) error
}

// Reaper is a ProcessReaper backed by gopsutil.
type Reaper struct {
	logger  *logging.Logger
	selfPID int32
	list    func(ctx context.Context) ([]pidHandle, error)
}

type pidHandle struct {
	pid int32
	processHandle
}

// NewReaper creates a reaper that never signals its own process.
func NewReaper(logger *logging.Logger) *Reaper {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Reaper{
		logger:  logger,
		selfPID: int32(os.Getpid()),
		list:    listProcesses,
	}
}

func listProcesses(ctx context.Context) ([]pidHandle, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	handles := make([]pidHandle, 0, len(procs))
	for _, p := range procs {
		handles = append(handles, pidHandle{pid: p.Pid, processHandle: p})
	}
	return handles, nil
}

// TerminateByName implements ProcessReaper.
func (r *Reaper) TerminateByName(ctx context.Context, fragment string) (int, error) {
	if fragment == "" {
		return 0, fmt.Errorf("process name cannot be empty")
	}
	return r.terminateMatching(ctx, func(name, _ string) bool {
		return strings.Contains(strings.ToLower(name), strings.ToLower(fragment))
	})
}

// TerminateUserProcesses implements ProcessReaper.
func (r *Reaper) TerminateUserProcesses(ctx context.Context, fragments []string) (int, error) {
	current, err := user.Current()
	if err != nil {
		return 0, fmt.Errorf("failed to resolve current user: %w", err)
	}
	return r.terminateMatching(ctx, func(name, owner string) bool {
		if owner != current.Username {
			return false
		}
		lower := strings.ToLower(name)
		for _, f := range fragments {
			if f != "" && strings.Contains(lower, strings.ToLower(f)) {
				return true
			}
		}
		return false
	})
}

func (r *Reaper) terminateMatching(ctx context.Context, match func(name, owner string) bool) (int, error) {
	procs, err := r.list(ctx)
	if err != nil {
		return 0, err
	}

	var (
		count int
		errs  []error
	)
	for _, p := range procs {
		if p.pid == r.selfPID {
			continue
		}
		// Processes can vanish between listing and inspection
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		owner, _ := p.UsernameWithContext(ctx)
		if !match(name, owner) {
			continue
		}
		if err := p.TerminateWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("pid %d (%s): %w", p.pid, name, err))
			continue
		}
		r.logger.Infof("terminated pid %d (%s)", p.pid, name)
		count++
	}
	return count, errors.Join(errs...)
}

// TerminatePID implements ProcessReaper.
func (r *Reaper) TerminatePID(ctx context.Context, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if int32(pid) == r.selfPID {
		return fmt.Errorf("refusing to terminate own process")
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return fmt.Errorf("process %d not found: %w", pid, err)
	}
	if err := p.TerminateWithContext(ctx); err != nil {
		return fmt.Errorf("failed to terminate process %d: %w", pid, err)
	}
	r.logger.Infof("terminated pid %d", pid)
	return nil
}
