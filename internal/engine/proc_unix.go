//go:build unix

package engine

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureCommand places the engine in its own process group so that
// terminal signals reach the supervisor first and the whole group can be
// signalled on stop.
func configureCommand(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	setParentDeathSignal(cmd.SysProcAttr)
}

func afterStart(*exec.Cmd) {}

// terminateProcess asks the engine to exit.
func terminateProcess(p *os.Process) error {
	return signalGroup(p, unix.SIGTERM)
}

// killProcess force-kills the engine and anything it spawned.
func killProcess(p *os.Process) error {
	return signalGroup(p, unix.SIGKILL)
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil || p.Pid <= 1 {
		return nil
	}
	err := unix.Kill(-p.Pid, sig)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	// The group may not exist yet if Setpgid raced the signal.
	return p.Signal(sig)
}
