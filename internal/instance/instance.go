// Package instance keeps a single gridvpn process per user in control of
// the engine and the system proxy setting.
package instance

import (
	"errors"
	"sync"
)

// ErrAlreadyRunning is returned when another process holds the lock.
var ErrAlreadyRunning = errors.New("another gridvpn instance is running")

// Lock is a held single-instance lock.
type Lock struct {
	once    sync.Once
	release func() error
	err     error
}

// Acquire takes the per-user lock identified by name.
func Acquire(name string) (*Lock, error) {
	release, err := acquire(name)
	if err != nil {
		return nil, err
	}
	return &Lock{release: release}, nil
}

// Release frees the lock. Further calls return the first result.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() { l.err = l.release() })
	return l.err
}
