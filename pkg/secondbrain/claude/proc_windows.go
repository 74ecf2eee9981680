//go:build windows

package claude

import (
	"os"
	"os/exec"
)

// setProcGroup is a no-op on Windows; there is no process-group kill here,
// so descendants are cleaned up by WaitDelay closing the pipes.
func setProcGroup(cmd *exec.Cmd) {}

func killProcTree(proc *os.Process) error {
	return proc.Kill()
}
