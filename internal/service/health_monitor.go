package service

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"gridvpn/internal/core"
)

const defaultProbeTimeout = 10 * time.Second

// Probe dials target through the SOCKS5 listener at listenAddr and
// requests /generate_204 over plain HTTP. Any HTTP response counts as
// success: it proves the engine reached the outside. Returns the round
// trip time.
func Probe(ctx context.Context, listenAddr, target string, timeout time.Duration) (time.Duration, error) {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer, err := proxy.SOCKS5("tcp", listenAddr, nil, &net.Dialer{Timeout: timeout})
	if err != nil {
		return 0, fmt.Errorf("socks5 dialer: %w", err)
	}
	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return 0, fmt.Errorf("socks5 dialer does not support contexts")
	}

	start := time.Now()
	conn, err := cd.DialContext(ctx, "tcp", target)
	if err != nil {
		return 0, fmt.Errorf("dial %s via %s: %w", target, listenAddr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	host, _, err := net.SplitHostPort(target)
	if err != nil {
		host = target
	}
	req := "HEAD /generate_204 HTTP/1.1\r\nHost: " + host + "\r\nUser-Agent: gridvpn-probe\r\nConnection: close\r\n\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		return 0, fmt.Errorf("write probe request: %w", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: http.MethodHead})
	if err != nil {
		return 0, fmt.Errorf("read probe response: %w", err)
	}
	_ = resp.Body.Close()
	return time.Since(start), nil
}

// HealthMonitor periodically probes through the engine listener. After
// threshold consecutive failures it publishes EventEngineUnhealthy, which
// the ReconnectManager turns into a restart.
type HealthMonitor struct {
	mu        sync.Mutex
	probe     func(ctx context.Context) error
	running   func() bool
	bus       *core.EventBus
	interval  time.Duration
	threshold int
	failures  int
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewHealthMonitor creates a health monitor probing cfg.Target through
// listenAddr. running reports whether the engine is up; probes are
// skipped otherwise. Does not start the monitor; call Start separately.
func NewHealthMonitor(cfg core.HealthCheckConfig, listenAddr string, running func() bool, bus *core.EventBus) *HealthMonitor {
	target := cfg.TargetAddr()
	interval := cfg.IntervalDuration()
	timeout := min(interval, defaultProbeTimeout)
	return &HealthMonitor{
		probe: func(ctx context.Context) error {
			rtt, err := Probe(ctx, listenAddr, target, timeout)
			if err == nil {
				core.Log.Debugf("Service", "Health check: %s reachable in %s", target, rtt.Round(time.Millisecond))
			}
			return err
		},
		running:   running,
		bus:       bus,
		interval:  interval,
		threshold: cfg.FailureThreshold(),
	}
}

// Start begins the periodic health check loop.
func (hm *HealthMonitor) Start() {
	hm.ctx, hm.cancel = context.WithCancel(context.Background())
	go hm.loop()
	core.Log.Infof("Service", "Health monitor started (interval=%s, failures=%d)", hm.interval, hm.threshold)
}

// Stop cancels the health check loop.
func (hm *HealthMonitor) Stop() {
	if hm.cancel != nil {
		hm.cancel()
	}
}

func (hm *HealthMonitor) loop() {
	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-hm.ctx.Done():
			return
		case <-ticker.C:
			hm.check(hm.ctx)
		}
	}
}

// check runs one probe and reports whether the engine was declared
// unhealthy by it.
func (hm *HealthMonitor) check(ctx context.Context) bool {
	if hm.running != nil && !hm.running() {
		hm.mu.Lock()
		hm.failures = 0
		hm.mu.Unlock()
		return false
	}

	err := hm.probe(ctx)

	hm.mu.Lock()
	if err == nil {
		hm.failures = 0
		hm.mu.Unlock()
		return false
	}
	hm.failures++
	failures := hm.failures
	unhealthy := failures >= hm.threshold
	if unhealthy {
		hm.failures = 0
	}
	hm.mu.Unlock()

	if !unhealthy {
		core.Log.Debugf("Service", "Health check: probe failed (%d/%d): %v", failures, hm.threshold, err)
		return false
	}
	core.Log.Warnf("Service", "Health check: %d consecutive probe failures, last: %v", failures, err)
	hm.bus.Publish(core.Event{Type: core.EventEngineUnhealthy, Payload: core.HealthPayload{
		Failures: failures,
		Err:      err,
	}})
	return true
}
