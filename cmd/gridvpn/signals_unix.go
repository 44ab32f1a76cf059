//go:build unix

package main

import (
	"os"
	"syscall"
)

// SIGHUP covers a closed terminal, which must still clear the system proxy.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
