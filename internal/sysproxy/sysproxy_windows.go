//go:build windows

package sysproxy

import (
	"fmt"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

const internetSettingsKey = `Software\Microsoft\Windows\CurrentVersion\Internet Settings`

// InternetSetOption codes that make running WinINet consumers reload
// the proxy configuration.
const (
	internetOptionRefresh         = 37
	internetOptionSettingsChanged = 39
)

var (
	modWininet             = windows.NewLazySystemDLL("wininet.dll")
	procInternetSetOptionW = modWininet.NewProc("InternetSetOptionW")
)

// registryToggle writes the per-user WinINet proxy settings under HKCU.
type registryToggle struct{}

func newPlatformToggle() Toggle {
	return registryToggle{}
}

func (registryToggle) Enable(localAddress string) error {
	if _, _, err := splitAddress(localAddress); err != nil {
		return &ToggleError{Op: "enable", Err: err}
	}

	k, err := registry.OpenKey(registry.CURRENT_USER, internetSettingsKey, registry.SET_VALUE)
	if err != nil {
		return &ToggleError{Op: "enable", Err: fmt.Errorf("open HKCU\\%s: %w", internetSettingsKey, err)}
	}
	defer k.Close()

	if err := k.SetDWordValue("ProxyEnable", 1); err != nil {
		return &ToggleError{Op: "enable", Err: fmt.Errorf("set ProxyEnable: %w", err)}
	}
	if err := k.SetStringValue("ProxyServer", socksServerValue(localAddress)); err != nil {
		return &ToggleError{Op: "enable", Err: fmt.Errorf("set ProxyServer: %w", err)}
	}

	if err := notifySettingsChanged(); err != nil {
		return &ToggleError{Op: "enable", Err: err}
	}
	return nil
}

func (registryToggle) Disable() error {
	k, err := registry.OpenKey(registry.CURRENT_USER, internetSettingsKey, registry.SET_VALUE)
	if err != nil {
		return &ToggleError{Op: "disable", Err: fmt.Errorf("open HKCU\\%s: %w", internetSettingsKey, err)}
	}
	defer k.Close()

	if err := k.SetDWordValue("ProxyEnable", 0); err != nil {
		return &ToggleError{Op: "disable", Err: fmt.Errorf("set ProxyEnable: %w", err)}
	}

	if err := notifySettingsChanged(); err != nil {
		return &ToggleError{Op: "disable", Err: err}
	}
	return nil
}

// notifySettingsChanged asks WinINet to propagate the new registry values
// to running applications.
func notifySettingsChanged() error {
	if err := procInternetSetOptionW.Find(); err != nil {
		return fmt.Errorf("load InternetSetOptionW: %w", err)
	}
	for _, opt := range []uintptr{internetOptionSettingsChanged, internetOptionRefresh} {
		r1, _, callErr := procInternetSetOptionW.Call(0, opt, 0, 0)
		if r1 == 0 {
			return fmt.Errorf("InternetSetOptionW(%d): %w", opt, callErr)
		}
	}
	return nil
}
