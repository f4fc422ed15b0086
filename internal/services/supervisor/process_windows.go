//go:build windows

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// Windows has no SIGTERM; termination goes straight to Kill
var terminateSignal os.Signal = os.Kill

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

func signalGroup(p *os.Process, sig os.Signal) error {
	return p.Signal(sig)
}

func killGroup(p *os.Process) error {
	return p.Kill()
}
