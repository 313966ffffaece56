//go:build windows

package runner

import (
	"os/exec"
	"syscall"
)

func setProcessGroup(c *exec.Cmd) {}

// signalProcess has no graceful step on Windows; every signal kills.
func signalProcess(c *exec.Cmd, _ syscall.Signal) {
	if c.Process != nil {
		_ = c.Process.Kill()
	}
}
