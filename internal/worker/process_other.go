//go:build !unix

package worker

import "os/exec"

// setProcessGroup is a no-op off unix; CommandContext's default kill applies.
func setProcessGroup(cmd *exec.Cmd) {}
