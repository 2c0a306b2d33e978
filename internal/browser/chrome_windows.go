//go:build windows

package browser

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// setChromeProcessGroup detaches the browser from the CLI's console.
func setChromeProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS,
	}
}

// killChromeProcessGroup stops the main process. Chrome tears down its own
// helpers.
func killChromeProcessGroup(cmd *exec.Cmd, force bool) {
	if cmd.Process == nil {
		return
	}
	if force {
		_ = cmd.Process.Kill()
		return
	}
	_ = cmd.Process.Signal(os.Interrupt)
}
