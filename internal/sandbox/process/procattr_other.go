//go:build !unix

package process

import "os/exec"

func setProcAttr(cmd *exec.Cmd) {}

// killGroup kills only the worker itself; it never starts children.
func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
