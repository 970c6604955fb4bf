//go:build !windows

package launcher

import (
	"os/exec"
	"syscall"
)

// configureProcess puts the child in its own process group so terminal
// signals aimed at the loader do not reach it.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
