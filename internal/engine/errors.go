package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyRunning is returned by Start while an engine is supervised.
	ErrAlreadyRunning = errors.New("engine is already running")
	// ErrNotReady is returned when the engine does not open its listener.
	ErrNotReady = errors.New("engine listener not ready")
	// ErrListenerBusy is returned when something else already holds the
	// listener address before launch.
	ErrListenerBusy = errors.New("listener address already in use")
	// ErrExited is returned by Run when the engine exits on its own.
	ErrExited = errors.New("engine exited unexpectedly")
)

// BinaryNotFoundError is returned when no search location holds the
// engine executable.
type BinaryNotFoundError struct {
	Name     string
	Searched []string
}

func (e *BinaryNotFoundError) Error() string {
	return fmt.Sprintf("engine binary %s not found (searched %s)", e.Name, strings.Join(e.Searched, ", "))
}

// LifecycleError reports a failure to launch or terminate the engine
// process.
type LifecycleError struct {
	Op  string // "start" or "stop"
	PID int
	Err error
}

func (e *LifecycleError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("engine %s (pid %d): %v", e.Op, e.PID, e.Err)
	}
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }
