//go:build darwin

package sysproxy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const networksetupTool = "networksetup"

// networksetupToggle sets the SOCKS firewall proxy on every enabled
// network service.
type networksetupToggle struct {
	run commandRunner
}

func newPlatformToggle() Toggle {
	return &networksetupToggle{run: execRunner{}}
}

func (n *networksetupToggle) Enable(localAddress string) error {
	host, port, err := splitAddress(localAddress)
	if err != nil {
		return &ToggleError{Op: "enable", Err: err}
	}
	services, err := n.services()
	if err != nil {
		return &ToggleError{Op: "enable", Err: err}
	}
	if len(services) == 0 {
		return &ToggleError{Op: "enable", Err: errors.New("no enabled network services")}
	}

	var errs []error
	for _, svc := range services {
		if _, err := n.run.Run(networksetupTool, "-setsocksfirewallproxy", svc, host, strconv.Itoa(port)); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := n.run.Run(networksetupTool, "-setsocksfirewallproxystate", svc, "on"); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &ToggleError{Op: "enable", Err: errors.Join(errs...)}
	}
	return nil
}

func (n *networksetupToggle) Disable() error {
	services, err := n.services()
	if err != nil {
		return &ToggleError{Op: "disable", Err: err}
	}

	var errs []error
	for _, svc := range services {
		if _, err := n.run.Run(networksetupTool, "-setsocksfirewallproxystate", svc, "off"); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &ToggleError{Op: "disable", Err: errors.Join(errs...)}
	}
	return nil
}

func (n *networksetupToggle) services() ([]string, error) {
	out, err := n.run.Run(networksetupTool, "-listallnetworkservices")
	if err != nil {
		return nil, fmt.Errorf("list network services: %w", err)
	}
	return parseNetworkServices(out), nil
}

// parseNetworkServices extracts enabled services from
// `networksetup -listallnetworkservices` output.
func parseNetworkServices(output string) []string {
	lines := strings.Split(output, "\n")
	services := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "An asterisk") {
			continue
		}
		// Disabled services are prefixed with '*'.
		if strings.HasPrefix(line, "*") {
			continue
		}
		services = append(services, line)
	}
	return services
}
