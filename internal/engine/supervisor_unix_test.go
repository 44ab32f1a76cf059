//go:build unix

package engine

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"gridvpn/internal/core"
)

// The test binary doubles as a fake engine when these are set.
const (
	fakeModeEnv   = "GRIDVPN_FAKE_ENGINE"
	fakeListenEnv = "GRIDVPN_FAKE_ENGINE_LISTEN"
	fakeRecordEnv = "GRIDVPN_FAKE_ENGINE_RECORD"
)

func TestMain(m *testing.M) {
	if mode := os.Getenv(fakeModeEnv); mode != "" {
		os.Exit(runFakeEngine(mode))
	}
	os.Exit(m.Run())
}

// runFakeEngine behaves like the engine binary:
//
//	serve        listen until SIGTERM
//	ignore-term  listen and ignore SIGTERM
//	crash        listen, then exit with status 4
//	exit         exit with status 3 before listening
func runFakeEngine(mode string) int {
	if rec := os.Getenv(fakeRecordEnv); rec != "" {
		wd, _ := os.Getwd()
		_ = os.WriteFile(rec, []byte(strings.Join(os.Args[1:], " ")+"\n"+wd), 0o644)
	}
	if mode == "exit" {
		return 3
	}

	term := make(chan os.Signal, 1)
	if mode == "ignore-term" {
		signal.Ignore(syscall.SIGTERM)
	} else {
		signal.Notify(term, syscall.SIGTERM)
	}

	ln, err := net.Listen("tcp", os.Getenv(fakeListenEnv))
	if err != nil {
		return 2
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	switch mode {
	case "crash":
		time.Sleep(300 * time.Millisecond)
		return 4
	case "ignore-term":
		time.Sleep(time.Hour)
		return 0
	default:
		<-term
		return 0
	}
}

type harness struct {
	sup        *Supervisor
	toggle     *fakeToggle
	bus        *core.EventBus
	installDir string
	configPath string
	listenAddr string
	recordPath string
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

// newHarness links the test binary into a fresh install dir as the engine
// and configures it to run in mode.
func newHarness(t *testing.T, mode string, opts Options) *harness {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}

	h := &harness{
		toggle:     &fakeToggle{},
		bus:        core.NewEventBus(),
		installDir: t.TempDir(),
		listenAddr: freeAddr(t),
	}
	h.recordPath = filepath.Join(t.TempDir(), "record")
	h.configPath = filepath.Join(h.installDir, "config.json")
	if err := os.WriteFile(h.configPath, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	binDir := h.installDir
	if opts.ResourcesDir != "" {
		binDir = filepath.Join(h.installDir, opts.ResourcesDir)
		opts.ResourcesDir = binDir
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Symlink(exe, filepath.Join(binDir, "xray")); err != nil {
		t.Fatalf("symlink engine: %v", err)
	}

	t.Setenv(fakeModeEnv, mode)
	t.Setenv(fakeListenEnv, h.listenAddr)
	t.Setenv(fakeRecordEnv, h.recordPath)

	opts.InstallDir = h.installDir
	opts.BinaryName = "xray"
	opts.ListenAddr = h.listenAddr
	opts.Toggle = h.toggle
	opts.Bus = h.bus
	if opts.StopTimeout == 0 {
		opts.StopTimeout = 2 * time.Second
	}
	h.sup = New(opts)
	t.Cleanup(func() { _ = h.sup.Stop() })
	return h
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, "serve", Options{})

	var states []core.EngineStatePayload
	h.bus.Subscribe(core.EventEngineStateChanged, func(e core.Event) {
		states = append(states, e.Payload.(core.EngineStatePayload))
	})
	exited := 0
	h.bus.Subscribe(core.EventEngineExited, func(core.Event) { exited++ })

	if err := h.sup.Start(t.Context(), h.configPath); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.sup.State() != StateRunning {
		t.Fatalf("state = %s, want running", h.sup.State())
	}
	if h.sup.PID() <= 0 {
		t.Errorf("PID = %d", h.sup.PID())
	}
	if h.sup.ConfigPath() != h.configPath {
		t.Errorf("ConfigPath = %q", h.sup.ConfigPath())
	}
	enabled, _, active := h.toggle.snapshot()
	if len(enabled) != 1 || enabled[0] != h.listenAddr || !active {
		t.Errorf("toggle after start: enabled=%v active=%v", enabled, active)
	}

	rec, err := os.ReadFile(h.recordPath)
	if err != nil {
		t.Fatalf("engine did not record its invocation: %v", err)
	}
	lines := strings.SplitN(string(rec), "\n", 2)
	if lines[0] != "-config "+h.configPath {
		t.Errorf("engine args = %q", lines[0])
	}
	wantDir, _ := filepath.EvalSymlinks(h.installDir)
	gotDir, _ := filepath.EvalSymlinks(lines[1])
	if gotDir != wantDir {
		t.Errorf("engine working dir = %q, want %q", gotDir, wantDir)
	}

	done := h.sup.Done()
	if err := h.sup.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-done:
	default:
		t.Error("process not reaped after Stop")
	}
	if h.sup.State() != StateStopped {
		t.Errorf("state = %s, want stopped", h.sup.State())
	}
	if _, _, active := h.toggle.snapshot(); active {
		t.Error("toggle still active after Stop")
	}

	if len(states) != 2 || states[0].NewState != "running" || states[1].NewState != "stopped" {
		t.Errorf("state events = %+v", states)
	}
	if exited != 0 {
		t.Errorf("requested stop published %d exit events", exited)
	}
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t, "serve", Options{})
	if err := h.sup.Start(t.Context(), h.configPath); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pid := h.sup.PID()

	if err := h.sup.Start(t.Context(), h.configPath); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if h.sup.PID() != pid {
		t.Error("second Start replaced the running process")
	}
	if enabled, _, _ := h.toggle.snapshot(); len(enabled) != 1 {
		t.Errorf("toggle enabled %d times", len(enabled))
	}
}

func TestStartFromResourcesDir(t *testing.T) {
	h := newHarness(t, "serve", Options{ResourcesDir: "resources"})
	if err := h.sup.Start(t.Context(), h.configPath); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.sup.State() != StateRunning {
		t.Errorf("state = %s", h.sup.State())
	}
}

func TestStartRelativeInstallDir(t *testing.T) {
	h := newHarness(t, "serve", Options{})
	t.Chdir(filepath.Dir(h.installDir))
	rel := filepath.Base(h.installDir)

	sup := New(Options{
		InstallDir:  rel,
		BinaryName:  "xray",
		ListenAddr:  h.listenAddr,
		Toggle:      h.toggle,
		Bus:         h.bus,
		StopTimeout: 2 * time.Second,
	})
	t.Cleanup(func() { _ = sup.Stop() })

	if err := sup.Start(t.Context(), filepath.Join(rel, "config.json")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !filepath.IsAbs(sup.ConfigPath()) {
		t.Errorf("ConfigPath = %q, want absolute", sup.ConfigPath())
	}

	rec, err := os.ReadFile(h.recordPath)
	if err != nil {
		t.Fatalf("engine did not record its invocation: %v", err)
	}
	lines := strings.SplitN(string(rec), "\n", 2)
	arg := strings.TrimPrefix(lines[0], "-config ")
	gotConfig, _ := filepath.EvalSymlinks(arg)
	wantConfig, _ := filepath.EvalSymlinks(h.configPath)
	if !filepath.IsAbs(arg) || gotConfig != wantConfig {
		t.Errorf("engine args = %q, want -config %s", lines[0], h.configPath)
	}
	gotDir, _ := filepath.EvalSymlinks(lines[1])
	wantDir, _ := filepath.EvalSymlinks(h.installDir)
	if gotDir != wantDir {
		t.Errorf("engine working dir = %q, want %q", gotDir, wantDir)
	}
}

func TestStartEngineExitsEarly(t *testing.T) {
	h := newHarness(t, "exit", Options{})

	err := h.sup.Start(t.Context(), h.configPath)
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Start = %v, want ErrNotReady", err)
	}
	if h.sup.State() != StateStopped {
		t.Errorf("state = %s", h.sup.State())
	}
	if enabled, _, _ := h.toggle.snapshot(); len(enabled) != 0 {
		t.Errorf("toggle enabled for an engine that never listened: %v", enabled)
	}
}

func TestStartToggleFailure(t *testing.T) {
	h := newHarness(t, "serve", Options{})
	h.toggle.enableErr = errors.New("registry locked")

	err := h.sup.Start(t.Context(), h.configPath)
	if err == nil || !strings.Contains(err.Error(), "registry locked") {
		t.Fatalf("Start = %v, want toggle error", err)
	}
	if h.sup.State() != StateStopped {
		t.Errorf("state = %s", h.sup.State())
	}
	if _, disables, _ := h.toggle.snapshot(); disables == 0 {
		t.Error("toggle not disabled after failed enable")
	}
	if checkTCPReachable(h.listenAddr, 200*time.Millisecond) {
		t.Error("engine still listening after failed start")
	}
}

func TestStartListenerBusy(t *testing.T) {
	h := newHarness(t, "serve", Options{})
	ln, err := net.Listen("tcp", h.listenAddr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	if err := h.sup.Start(t.Context(), h.configPath); !errors.Is(err, ErrListenerBusy) {
		t.Fatalf("Start = %v, want ErrListenerBusy", err)
	}
	if _, err := os.Stat(h.recordPath); err == nil {
		t.Error("engine was launched despite busy listener")
	}
}

func TestStartMissingConfig(t *testing.T) {
	h := newHarness(t, "serve", Options{})
	err := h.sup.Start(t.Context(), filepath.Join(h.installDir, "nope.json"))
	var le *LifecycleError
	if !errors.As(err, &le) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Start = %v, want LifecycleError wrapping ErrNotExist", err)
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	h := newHarness(t, "ignore-term", Options{StopTimeout: 300 * time.Millisecond})
	if err := h.sup.Start(t.Context(), h.configPath); err != nil {
		t.Fatalf("Start: %v", err)
	}

	begin := time.Now()
	if err := h.sup.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(begin); elapsed < 300*time.Millisecond {
		t.Errorf("Stop returned after %s, before the grace period", elapsed)
	}
	if h.sup.State() != StateStopped {
		t.Errorf("state = %s", h.sup.State())
	}
	if _, _, active := h.toggle.snapshot(); active {
		t.Error("toggle still active")
	}
}

func TestCrashDetected(t *testing.T) {
	h := newHarness(t, "crash", Options{})

	exits := make(chan core.EngineExitPayload, 1)
	h.bus.Subscribe(core.EventEngineExited, func(e core.Event) {
		exits <- e.Payload.(core.EngineExitPayload)
	})

	if err := h.sup.Start(t.Context(), h.configPath); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pid := h.sup.PID()

	select {
	case p := <-exits:
		if p.PID != pid || p.ConfigPath != h.configPath {
			t.Errorf("exit payload = %+v", p)
		}
		if p.Err == nil {
			t.Error("exit payload has no error for status 4")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no exit event")
	}

	if h.sup.State() != StateStopped {
		t.Errorf("state = %s", h.sup.State())
	}
	if _, _, active := h.toggle.snapshot(); active {
		t.Error("toggle still active after crash")
	}
	if err := h.sup.Stop(); err != nil {
		t.Errorf("Stop after crash: %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, "serve", Options{})
	ctx, cancel := context.WithCancel(t.Context())

	result := make(chan error, 1)
	go func() { result <- h.sup.Run(ctx, h.configPath) }()

	deadline := time.Now().Add(5 * time.Second)
	for h.sup.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatal("engine never reached running")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-result:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, _, active := h.toggle.snapshot(); active {
		t.Error("toggle still active after Run")
	}
	if h.sup.State() != StateStopped {
		t.Errorf("state = %s", h.sup.State())
	}
}

func TestRunReturnsOnCrash(t *testing.T) {
	h := newHarness(t, "crash", Options{})
	err := h.sup.Run(t.Context(), h.configPath)
	if !errors.Is(err, ErrExited) {
		t.Fatalf("Run = %v, want ErrExited", err)
	}
	if _, _, active := h.toggle.snapshot(); active {
		t.Error("toggle still active")
	}
}
