package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gridvpn/internal/core"
	"gridvpn/internal/engine"
	"gridvpn/internal/link"
	"gridvpn/internal/xray"
)

// ErrNoLink is returned when a connect needs a stored link and none exists.
var ErrNoLink = errors.New("no link stored")

// Engine is the part of engine.Supervisor the controller drives.
type Engine interface {
	Start(ctx context.Context, configPath string) error
	Stop() error
	State() engine.State
}

// ControllerDeps holds everything the Controller needs.
type ControllerDeps struct {
	Config *core.ConfigManager
	Engine Engine
	// Reconnect, when set, is told about user connect/disconnect intent.
	Reconnect *ReconnectManager
}

// Controller turns a link into a running engine: parse, build, write the
// engine config and start the supervisor.
type Controller struct {
	mu         sync.Mutex
	deps       ControllerDeps
	configPath string // last config handed to the engine
	current    link.Descriptor
}

// NewController creates a Controller.
func NewController(deps ControllerDeps) *Controller {
	return &Controller{deps: deps}
}

// ResolveLink maps a CLI argument to a link URI: empty selects the stored
// selection, a number selects that stored index, anything else is taken
// as a URI.
func (c *Controller) ResolveLink(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		l, ok := c.deps.Config.SelectedLink()
		if !ok {
			return "", ErrNoLink
		}
		return l.URI, nil
	}
	if i, err := strconv.Atoi(arg); err == nil {
		links := c.deps.Config.Links()
		if i < 0 || i >= len(links) {
			return "", fmt.Errorf("link index %d out of range (have %d)", i, len(links))
		}
		return links[i].URI, nil
	}
	return arg, nil
}

// Render parses uri and returns the engine config it produces.
func (c *Controller) Render(uri string) (link.Descriptor, xray.Config, error) {
	d, err := link.Parse(uri)
	if err != nil {
		return link.Descriptor{}, xray.Config{}, err
	}
	port := c.deps.Config.Get().Engine.Port()
	return d, xray.Build(d, port), nil
}

// Connect writes the engine config for uri and starts the engine.
func (c *Controller) Connect(ctx context.Context, uri string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, cfg, err := c.Render(uri)
	if err != nil {
		return err
	}
	path := c.deps.Config.Get().Engine.ConfigPath()
	if err := xray.WriteFile(path, cfg); err != nil {
		return err
	}
	core.Log.Infof("Service", "Connecting to %s via %s (%s, %s)", displayName(d), d.Protocol, d.Transport, d.Security)

	if err := c.deps.Engine.Start(ctx, path); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	c.configPath = path
	c.current = d
	if c.deps.Reconnect != nil {
		c.deps.Reconnect.SetIntent(true)
	}
	return nil
}

// Disconnect stops the engine and clears the reconnect intent.
func (c *Controller) Disconnect() error {
	if c.deps.Reconnect != nil {
		c.deps.Reconnect.SetIntent(false)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deps.Engine.Stop()
}

// Reconnect restarts the engine with the last written config. A config
// that went missing or no longer parses is rebuilt from the last link.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.configPath == "" {
		return errors.New("nothing to reconnect: no previous connection")
	}
	if _, err := xray.ReadFile(c.configPath); err != nil {
		core.Log.Warnf("Service", "Engine config unusable, rewriting: %v", err)
		cfg := xray.Build(c.current, c.deps.Config.Get().Engine.Port())
		if err := xray.WriteFile(c.configPath, cfg); err != nil {
			return err
		}
	}
	if c.deps.Engine.State() == engine.StateRunning {
		if err := c.deps.Engine.Stop(); err != nil {
			core.Log.Warnf("Service", "Stop before reconnect: %v", err)
		}
	}
	return c.deps.Engine.Start(ctx, c.configPath)
}

// Current returns the descriptor of the last successful connect.
func (c *Controller) Current() (link.Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.configPath != ""
}

func displayName(d link.Descriptor) string {
	if d.Name != "" {
		return fmt.Sprintf("%q (%s)", d.Name, d.Address())
	}
	return d.Address()
}
