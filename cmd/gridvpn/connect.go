package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"time"

	"gridvpn/internal/core"
	"gridvpn/internal/engine"
	"gridvpn/internal/instance"
	"gridvpn/internal/service"
	"gridvpn/internal/sysproxy"
	"gridvpn/internal/xray"
)

const lockName = "engine"

func (a *app) newController(eng service.Engine, rm *service.ReconnectManager) *service.Controller {
	return service.NewController(service.ControllerDeps{Config: a.cm, Engine: eng, Reconnect: rm})
}

func (a *app) runRender(args []string) error {
	if len(args) > 1 {
		return errUsage
	}
	ctrl := a.newController(nil, nil)
	uri, err := ctrl.ResolveLink(firstArg(args))
	if err != nil {
		return err
	}
	_, cfg, err := ctrl.Render(uri)
	if err != nil {
		return err
	}
	data, err := xray.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func (a *app) runConnect(args []string) error {
	if len(args) > 1 {
		return errUsage
	}
	lock, err := instance.Acquire(lockName)
	if err != nil {
		return err
	}
	defer lock.Release()

	cfg := a.cm.Get()
	sup := engine.New(engine.Options{
		InstallDir:   cfg.Engine.ResolvedInstallDir(),
		ResourcesDir: cfg.Engine.ResolvedResourcesDir(),
		BinaryName:   cfg.Engine.BinaryName(),
		ListenAddr:   cfg.Engine.ListenAddr(),
		StopTimeout:  cfg.Engine.StopTimeoutDuration(),
		ReadyTimeout: cfg.Engine.ReadyTimeoutDuration(),
		Toggle:       sysproxy.New(),
		Bus:          a.bus,
	})

	rm := service.NewReconnectManager(cfg.Reconnect, a.bus, net.DefaultResolver)
	ctrl := a.newController(sup, rm)
	rm.SetController(ctrl)
	rm.Start()
	defer rm.Stop()

	uri, err := ctrl.ResolveLink(firstArg(args))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer stop()

	// Without reconnects, an engine crash ends the session.
	exited := make(chan core.EngineExitPayload, 1)
	if !cfg.Reconnect.Enabled {
		a.bus.Subscribe(core.EventEngineExited, func(e core.Event) {
			if p, ok := e.Payload.(core.EngineExitPayload); ok {
				select {
				case exited <- p:
				default:
				}
			}
		})
	}

	if err := ctrl.Connect(ctx, uri); err != nil {
		return err
	}
	defer func() {
		if err := ctrl.Disconnect(); err != nil {
			core.Log.Errorf("Core", "Disconnect: %v", err)
		}
	}()

	if cfg.Health.Enabled {
		hm := service.NewHealthMonitor(cfg.Health, cfg.Engine.ListenAddr(), func() bool {
			return sup.State() == engine.StateRunning
		}, a.bus)
		hm.Start()
		defer hm.Stop()
	}

	fmt.Printf("Connected: SOCKS5 on %s, system proxy enabled. Press Ctrl+C to disconnect.\n", cfg.Engine.ListenAddr())
	select {
	case <-ctx.Done():
		fmt.Println("Disconnecting...")
		return nil
	case p := <-exited:
		return fmt.Errorf("%w (pid %d): %v", engine.ErrExited, p.PID, p.Err)
	}
}

func (a *app) runProbe(args []string) error {
	if len(args) > 1 {
		return errUsage
	}
	cfg := a.cm.Get()
	target := cfg.Health.TargetAddr()
	if len(args) == 1 {
		target = args[0]
	}
	rtt, err := service.Probe(context.Background(), cfg.Engine.ListenAddr(), target, 10*time.Second)
	if err != nil {
		return err
	}
	fmt.Printf("%s reachable through %s in %s\n", target, cfg.Engine.ListenAddr(), rtt.Round(time.Millisecond))
	return nil
}

// runOff clears a system proxy setting left behind when a session was
// killed before it could clean up.
func (a *app) runOff() error {
	lock, err := instance.Acquire(lockName)
	if errors.Is(err, instance.ErrAlreadyRunning) {
		return fmt.Errorf("%w: stop it instead", err)
	}
	if err != nil {
		return err
	}
	defer lock.Release()

	if err := sysproxy.New().Disable(); err != nil {
		return err
	}
	fmt.Println("System proxy disabled")
	return nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
