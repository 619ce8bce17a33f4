//go:build windows

package odm

import (
	"os"
	"os/exec"
)

func setupCommand(_ *exec.Cmd) {}

// killProcessGroup falls back to killing the direct child on Windows.
func killProcessGroup(cmd *exec.Cmd, _ os.Signal) error {
	if cmd != nil && cmd.Process != nil {
		return cmd.Process.Kill()
	}
	return nil
}
