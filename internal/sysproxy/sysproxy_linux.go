//go:build linux

package sysproxy

import (
	"fmt"
	"strconv"
)

const gsettingsTool = "gsettings"

// gsettingsToggle drives the GNOME proxy schema, which most desktop
// applications and libproxy read.
type gsettingsToggle struct {
	run commandRunner
}

func newPlatformToggle() Toggle {
	return &gsettingsToggle{run: execRunner{}}
}

func (g *gsettingsToggle) Enable(localAddress string) error {
	host, port, err := splitAddress(localAddress)
	if err != nil {
		return &ToggleError{Op: "enable", Err: err}
	}
	if _, err := g.run.LookPath(gsettingsTool); err != nil {
		return &ToggleError{Op: "enable", Err: fmt.Errorf("%w: %s not found", ErrUnsupported, gsettingsTool)}
	}

	steps := [][]string{
		{"set", "org.gnome.system.proxy.socks", "host", quoteGVariant(host)},
		{"set", "org.gnome.system.proxy.socks", "port", strconv.Itoa(port)},
		{"set", "org.gnome.system.proxy", "mode", quoteGVariant("manual")},
	}
	for _, args := range steps {
		if _, err := g.run.Run(gsettingsTool, args...); err != nil {
			return &ToggleError{Op: "enable", Err: err}
		}
	}
	return nil
}

func (g *gsettingsToggle) Disable() error {
	if _, err := g.run.LookPath(gsettingsTool); err != nil {
		// Nothing could have been enabled without the tool.
		return nil
	}
	if _, err := g.run.Run(gsettingsTool, "set", "org.gnome.system.proxy", "mode", quoteGVariant("none")); err != nil {
		return &ToggleError{Op: "disable", Err: err}
	}
	return nil
}

func quoteGVariant(s string) string {
	return "'" + s + "'"
}
