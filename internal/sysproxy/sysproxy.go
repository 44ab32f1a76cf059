// Package sysproxy switches the host's system-wide proxy setting to a
// local SOCKS listener and back.
//
// The setting is OS-global and not guarded by any lock. Callers hold the
// single-instance lock from package instance before touching it.
package sysproxy

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrUnsupported is returned by Enable on hosts without a known backend.
var ErrUnsupported = errors.New("system proxy is not supported on this host")

// Toggle enables and disables the system proxy. Both operations are
// idempotent: enabling twice rewrites the same state and disabling an
// already disabled proxy succeeds.
type Toggle interface {
	Enable(localAddress string) error
	Disable() error
}

// ToggleError reports an OS or permission failure while changing the
// system proxy.
type ToggleError struct {
	Op  string // "enable" or "disable"
	Err error
}

func (e *ToggleError) Error() string {
	return fmt.Sprintf("system proxy %s: %v", e.Op, e.Err)
}

func (e *ToggleError) Unwrap() error { return e.Err }

// New returns the backend for the running OS.
func New() Toggle {
	return newPlatformToggle()
}

// Nop is a Toggle that leaves the system setting untouched.
type Nop struct{}

func (Nop) Enable(string) error { return nil }
func (Nop) Disable() error      { return nil }

// splitAddress validates a host:port listener address.
func splitAddress(addr string) (host string, port int, err error) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	if h == "" {
		return "", 0, fmt.Errorf("address %q has no host", addr)
	}
	n, err := strconv.Atoi(p)
	if err != nil || n < 1 || n > 65535 {
		return "", 0, fmt.Errorf("address %q has invalid port", addr)
	}
	return h, n, nil
}

// socksServerValue is the WinINet ProxyServer value routing all schemes
// through a SOCKS listener.
func socksServerValue(addr string) string {
	return "socks=" + addr
}
