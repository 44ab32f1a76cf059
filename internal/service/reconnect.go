package service

import (
	"context"
	"net"
	"sync"
	"time"

	"gridvpn/internal/core"
)

// Reconnector restarts the engine with its last configuration.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// ReconnectManager watches for engine crashes and health failures and
// restarts the engine while the user still wants to be connected.
type ReconnectManager struct {
	mu       sync.Mutex
	cfg      core.ReconnectConfig
	ctrl     Reconnector
	bus      *core.EventBus
	resolver *net.Resolver // nil skips the connectivity check

	intent   bool               // user wants the engine running
	retrying context.CancelFunc // active retry loop, nil when idle
	loopID   int                // identifies the loop retrying belongs to
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewReconnectManager creates a new auto-reconnection manager.
func NewReconnectManager(cfg core.ReconnectConfig, bus *core.EventBus, resolver *net.Resolver) *ReconnectManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ReconnectManager{
		cfg:      cfg,
		bus:      bus,
		resolver: resolver,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetController sets the component used to restart the engine. The
// controller usually holds the manager too, so this breaks the cycle.
func (rm *ReconnectManager) SetController(ctrl Reconnector) {
	rm.mu.Lock()
	rm.ctrl = ctrl
	rm.mu.Unlock()
}

// Start subscribes to engine events and begins monitoring.
func (rm *ReconnectManager) Start() {
	rm.bus.Subscribe(core.EventEngineExited, rm.handleFailure)
	rm.bus.Subscribe(core.EventEngineUnhealthy, rm.handleFailure)
	core.Log.Infof("Service", "Reconnect manager started (enabled=%v, interval=%s, max_retries=%d)",
		rm.cfg.Enabled, rm.cfg.IntervalDuration(), rm.cfg.MaxRetries)
}

// Stop cancels any retry loop.
func (rm *ReconnectManager) Stop() {
	rm.cancel()
	rm.mu.Lock()
	rm.stopRetryingLocked()
	rm.mu.Unlock()
}

// SetIntent records whether the user wants the engine connected.
// Clearing the intent cancels an ongoing retry loop.
func (rm *ReconnectManager) SetIntent(connected bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.intent = connected
	if !connected {
		rm.stopRetryingLocked()
	}
}

// Retrying reports whether a retry loop is active.
func (rm *ReconnectManager) Retrying() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.retrying != nil
}

func (rm *ReconnectManager) handleFailure(e core.Event) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.cfg.Enabled || !rm.intent || rm.ctrl == nil {
		return
	}
	if rm.retrying != nil {
		return
	}
	switch p := e.Payload.(type) {
	case core.EngineExitPayload:
		core.Log.Warnf("Service", "Reconnect: engine pid %d exited (%v)", p.PID, p.Err)
	case core.HealthPayload:
		core.Log.Warnf("Service", "Reconnect: engine unhealthy after %d failed probes (%v)", p.Failures, p.Err)
	}

	retryCtx, retryCancel := context.WithCancel(rm.ctx)
	rm.retrying = retryCancel
	rm.loopID++
	go rm.reconnectLoop(retryCtx, rm.loopID, rm.ctrl)
}

func (rm *ReconnectManager) reconnectLoop(ctx context.Context, id int, ctrl Reconnector) {
	interval := rm.cfg.IntervalDuration()
	maxRetries := rm.cfg.MaxRetries

	core.Log.Infof("Service", "Reconnect: starting retry loop (interval=%s)", interval)

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			core.Log.Infof("Service", "Reconnect: cancelled")
			return
		case <-time.After(interval):
		}

		rm.mu.Lock()
		hasIntent := rm.intent
		rm.mu.Unlock()
		if !hasIntent {
			core.Log.Infof("Service", "Reconnect: intent cleared, stopping")
			rm.cleanup(id)
			return
		}

		if !rm.hasNetworkConnectivity() {
			core.Log.Debugf("Service", "Reconnect: no network connectivity, skipping attempt %d", attempt)
			continue
		}

		if maxRetries > 0 && attempt > maxRetries {
			core.Log.Warnf("Service", "Reconnect: max retries (%d) reached", maxRetries)
			rm.cleanup(id)
			return
		}

		core.Log.Infof("Service", "Reconnect: attempt %d", attempt)
		if err := ctrl.Reconnect(ctx); err != nil {
			core.Log.Warnf("Service", "Reconnect: attempt %d failed: %v", attempt, err)
			continue
		}

		core.Log.Infof("Service", "Reconnect: engine restarted")
		rm.cleanup(id)
		return
	}
}

// cleanup ends loop id's registration unless a newer loop replaced it.
func (rm *ReconnectManager) cleanup(id int) {
	rm.mu.Lock()
	if rm.loopID == id {
		rm.stopRetryingLocked()
	}
	rm.mu.Unlock()
}

func (rm *ReconnectManager) stopRetryingLocked() {
	if rm.retrying != nil {
		rm.retrying()
		rm.retrying = nil
	}
}

func (rm *ReconnectManager) hasNetworkConnectivity() bool {
	if rm.resolver == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := rm.resolver.LookupHost(ctx, "dns.google")
	return err == nil
}
