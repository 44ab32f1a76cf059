//go:build windows

package instance

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

// acquire creates a named mutex in the session namespace; the proxy
// setting it protects is per user.
func acquire(name string) (func() error, error) {
	ptr, err := windows.UTF16PtrFromString(`Local\GridVPN-` + name)
	if err != nil {
		return nil, err
	}
	h, err := windows.CreateMutex(nil, false, ptr)
	if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		if h != 0 {
			windows.CloseHandle(h)
		}
		return nil, ErrAlreadyRunning
	}
	if h == 0 {
		return nil, fmt.Errorf("CreateMutex: %w", err)
	}
	return func() error { return windows.CloseHandle(h) }, nil
}
