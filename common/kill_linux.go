//go:build linux

package common

import (
	"os/exec"
	"syscall"
)

// killAfterParent makes the kernel kill the engine when the host dies.
func killAfterParent(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGKILL,
	}
}
