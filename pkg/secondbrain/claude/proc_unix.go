//go:build unix

package claude

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcGroup places the child in its own process group so a kill reaches
// every descendant (tool processes, MCP servers), not just the CLI itself.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcTree signals the child's whole process group, falling back to the
// direct child when the group is already gone.
func killProcTree(proc *os.Process) error {
	if err := syscall.Kill(-proc.Pid, syscall.SIGKILL); err != nil {
		return proc.Kill()
	}
	return nil
}
