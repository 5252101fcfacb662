//go:build unix

package worker

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the worker in its own process group so that killing
// on timeout takes down any children the worker command spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
