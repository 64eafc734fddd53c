//go:build windows

package plugin

import "os/exec"

// configureProcessGroup is a no-op on Windows: no process group is created,
// and both terminate and kill below kill only the immediate child process.
func configureProcessGroup(cmd *exec.Cmd) {}

func terminateProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
