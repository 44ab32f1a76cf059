//go:build !windows && !darwin && !linux

package sysproxy

type unsupportedToggle struct{}

func newPlatformToggle() Toggle {
	return unsupportedToggle{}
}

func (unsupportedToggle) Enable(string) error {
	return &ToggleError{Op: "enable", Err: ErrUnsupported}
}

// Disable succeeds: nothing can have been enabled.
func (unsupportedToggle) Disable() error { return nil }
