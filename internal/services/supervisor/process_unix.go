//go:build !windows

package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

var terminateSignal os.Signal = syscall.SIGTERM

// setProcessGroup puts the worker in its own group so its browser children
// are signalled with it
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(p *os.Process, sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return p.Signal(sig)
	}
	if err := syscall.Kill(-p.Pid, s); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return p.Signal(sig)
	}
	return nil
}

func killGroup(p *os.Process) error {
	return signalGroup(p, syscall.SIGKILL)
}
