package engine

import (
	"context"
	"fmt"
	"net"
	"time"
)

const (
	readyPollInterval = 100 * time.Millisecond
	readyDialTimeout  = 300 * time.Millisecond
)

// waitReady polls addr until it accepts TCP connections, the process
// exits or timeout elapses.
func waitReady(ctx context.Context, addr string, timeout time.Duration, exited <-chan struct{}) error {
	deadline := time.Now().Add(timeout)
	for {
		if checkTCPReachable(addr, readyDialTimeout) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s not accepting connections after %s", ErrNotReady, addr, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return fmt.Errorf("%w: process exited during startup", ErrNotReady)
		case <-time.After(readyPollInterval):
		}
	}
}

func checkTCPReachable(addr string, timeout time.Duration) bool {
	if addr == "" {
		return false
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
