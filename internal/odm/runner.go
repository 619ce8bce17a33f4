// internal/odm/runner.go
package odm

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Status is the terminal state of one engine execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Result captures the outcome of one engine execution. It is created once
// after the process terminates and never mutated.
type Result struct {
	Status   Status
	ExitCode int
	LogTail  string
	Err      error
}

// killGracePeriod is how long a cancelled engine gets to exit after SIGTERM
// before the whole process group is killed.
const killGracePeriod = 10 * time.Second

// tailLineLimit bounds the diagnostic tail retained from engine output.
const tailLineLimit = 50

// Execute runs the engine and blocks until it terminates. Output is streamed
// line by line to the logger and a rolling tail is retained for diagnostics.
// Cancelling ctx terminates the engine's entire process group, not just the
// waiting caller, and yields a Failure result with a "cancelled" detail.
// There are no retries at this layer: the engine run is expensive and not
// idempotent mid-flight, so failures surface immediately.
func (a *Adapter) Execute(ctx context.Context, inv *Invocation) Result {
	logger := a.Logger.With("engine", inv.Engine)
	tail := newTailWriter(tailLineLimit, func(line string) {
		logger.Debug("engine output", "line", line)
	})

	cmd := exec.Command(inv.Engine, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), inv.Env...)
	cmd.Stdout = tail
	cmd.Stderr = tail
	setupCommand(cmd)

	logger.Info("starting engine", "args", inv.Args, "dir", inv.Dir)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{Status: StatusFailure, ExitCode: -1, Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		logger.Warn("cancellation requested, terminating engine process group")
		_ = killProcessGroup(cmd, syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(killGracePeriod):
			_ = killProcessGroup(cmd, syscall.SIGKILL)
			<-done
		}
		return Result{
			Status:   StatusFailure,
			ExitCode: exitCode(cmd, nil),
			LogTail:  tail.Tail(),
			Err:      errors.New("cancelled"),
		}
	case err := <-done:
		code := exitCode(cmd, err)
		logger.Info("engine finished", "exit_code", code, "elapsed", time.Since(start).Round(time.Second))
		if err != nil {
			return Result{
				Status:   StatusFailure,
				ExitCode: code,
				LogTail:  tail.Tail(),
				Err:      &ExternalProcessError{ExitCode: code, LogTail: tail.Tail()},
			}
		}
		return Result{Status: StatusSuccess, ExitCode: 0, LogTail: tail.Tail()}
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}
