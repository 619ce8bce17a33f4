//go:build !windows

package odm

import (
	"os"
	"os/exec"
	"syscall"
)

// setupCommand places the engine in its own process group so cancellation
// can reach every child it spawns.
func setupCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
}

// killProcessGroup signals the engine's whole process group.
func killProcessGroup(cmd *exec.Cmd, sig os.Signal) error {
	if cmd != nil && cmd.Process != nil {
		return syscall.Kill(-cmd.Process.Pid, sig.(syscall.Signal))
	}
	return nil
}
