package engine

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setParentDeathSignal has the kernel terminate the engine if the
// supervising process dies without running its shutdown path.
//
// The kernel ties Pdeathsig to the thread that forked the child, not to
// the process. The Go runtime only terminates a thread when a goroutine
// that locked it with runtime.LockOSThread exits still locked, so
// Supervisor.Start must not be called from such a goroutine. Nothing in
// this module locks OS threads.
func setParentDeathSignal(attr *syscall.SysProcAttr) {
	attr.Pdeathsig = unix.SIGTERM
}
