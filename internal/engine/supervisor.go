package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gridvpn/internal/core"
	"gridvpn/internal/sysproxy"
)

const (
	DefaultStopTimeout  = 5 * time.Second
	DefaultReadyTimeout = 5 * time.Second
)

// State is the supervisor's view of the engine process.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Supervisor.
type Options struct {
	// InstallDir is searched first for BinaryName and is the working
	// directory of the engine process.
	InstallDir string
	// ResourcesDir is the fallback search location.
	ResourcesDir string
	BinaryName   string
	// ListenAddr is the local SOCKS listener handed to the toggle and
	// polled for readiness.
	ListenAddr   string
	StopTimeout  time.Duration
	ReadyTimeout time.Duration
	// SkipReadyCheck starts the toggle immediately after launch.
	SkipReadyCheck bool

	Toggle sysproxy.Toggle
	Bus    *core.EventBus

	// Stdout and Stderr receive engine output. Default: the engine logger.
	Stdout io.Writer
	Stderr io.Writer
}

type process struct {
	cmd        *exec.Cmd
	configPath string
	done       chan struct{}
	err        error // valid after done is closed
}

func (p *process) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Supervisor owns at most one engine process and pairs its lifetime with
// the system proxy toggle: the toggle is enabled only while the engine is
// running and disabled on every path that leaves the running state.
type Supervisor struct {
	mu    sync.Mutex
	opts  Options
	state State
	proc  *process
}

// New creates a stopped supervisor.
func New(opts Options) *Supervisor {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.Toggle == nil {
		opts.Toggle = sysproxy.Nop{}
	}
	if opts.Stdout == nil {
		opts.Stdout = core.Log.Writer("Engine", core.LevelInfo)
	}
	if opts.Stderr == nil {
		opts.Stderr = core.Log.Writer("Engine", core.LevelWarn)
	}
	return &Supervisor{opts: opts}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID returns the engine's process id, or 0 when stopped.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.pid()
}

// ConfigPath returns the config the running engine was started with.
func (s *Supervisor) ConfigPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return ""
	}
	return s.proc.configPath
}

// Done returns a channel closed when the current engine process exits.
// When stopped, the returned channel is already closed.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.proc.done
}

// Start launches the engine with configPath, waits for its listener and
// enables the system proxy. Any failure leaves the supervisor stopped
// with no process running and the toggle disabled.
func (s *Supervisor) Start(ctx context.Context, configPath string) error {
	var events []core.Event
	defer func() { s.publish(events) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		return ErrAlreadyRunning
	}

	// exec resolves a relative binary path against cmd.Dir and the engine
	// resolves -config against its own working directory, so everything
	// handed to the child is made absolute first.
	installDir := absPath(s.opts.InstallDir)
	bin, err := LocateBinary(installDir, absPath(s.opts.ResourcesDir), s.opts.BinaryName)
	if err != nil {
		return err
	}
	bin = absPath(bin)
	configPath = absPath(configPath)
	if _, err := os.Stat(configPath); err != nil {
		return &LifecycleError{Op: "start", Err: fmt.Errorf("engine config: %w", err)}
	}
	if !s.opts.SkipReadyCheck && checkTCPReachable(s.opts.ListenAddr, readyDialTimeout) {
		return fmt.Errorf("%w: %s", ErrListenerBusy, s.opts.ListenAddr)
	}

	cmd := exec.Command(bin, "-config", configPath)
	cmd.Dir = installDir
	cmd.Stdout = s.opts.Stdout
	cmd.Stderr = s.opts.Stderr
	// Output copying must not outlive the process by much if a
	// grandchild inherits the pipes.
	cmd.WaitDelay = time.Second
	configureCommand(cmd)

	core.Log.Infof("Engine", "Starting %s -config %s", bin, configPath)
	if err := cmd.Start(); err != nil {
		return &LifecycleError{Op: "start", Err: err}
	}
	afterStart(cmd)

	p := &process{cmd: cmd, configPath: configPath, done: make(chan struct{})}
	go s.watch(p)

	if !s.opts.SkipReadyCheck {
		if err := waitReady(ctx, s.opts.ListenAddr, s.opts.ReadyTimeout, p.done); err != nil {
			core.Log.Errorf("Engine", "Engine pid %d not ready: %v", p.pid(), err)
			s.abort(p)
			return err
		}
	}

	if err := s.opts.Toggle.Enable(s.opts.ListenAddr); err != nil {
		core.Log.Errorf("Engine", "Enable system proxy: %v", err)
		s.abort(p)
		s.disableProxy()
		return err
	}

	s.proc = p
	events = append(events, s.setState(StateRunning, configPath))
	core.Log.Infof("Engine", "Engine running (pid %d, listener %s)", p.pid(), s.opts.ListenAddr)
	return nil
}

// Stop terminates the engine, escalating to a forced kill after the stop
// timeout, and disables the system proxy. Stop on a stopped supervisor
// only disables the proxy. Toggle failures are logged, not returned.
func (s *Supervisor) Stop() error {
	var events []core.Event
	defer func() { s.publish(events) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	var stopErr error
	configPath := ""
	if p := s.proc; p != nil {
		configPath = p.configPath
		s.proc = nil
		stopErr = s.terminate(p)
	}
	s.disableProxy()

	if s.state != StateStopped {
		events = append(events, s.setState(StateStopped, configPath))
	}
	return stopErr
}

// Run starts the engine and blocks until ctx is cancelled or the engine
// exits, then stops it. Cleanup runs on every return path.
func (s *Supervisor) Run(ctx context.Context, configPath string) (err error) {
	if err := s.Start(ctx, configPath); err != nil {
		return err
	}
	done := s.Done()
	defer func() {
		if stopErr := s.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case <-done:
		return ErrExited
	}
}

// watch reaps p and, when the exit was not requested, moves the
// supervisor to stopped and reports the crash.
func (s *Supervisor) watch(p *process) {
	p.err = p.cmd.Wait()
	close(p.done)

	var events []core.Event
	s.mu.Lock()
	if s.proc == p {
		core.Log.Warnf("Engine", "Engine pid %d exited unexpectedly: %v", p.pid(), p.err)
		s.proc = nil
		s.disableProxy()
		events = append(events,
			s.setState(StateStopped, p.configPath),
			core.Event{Type: core.EventEngineExited, Payload: core.EngineExitPayload{
				PID:        p.pid(),
				ConfigPath: p.configPath,
				Err:        p.err,
			}},
		)
	} else {
		core.Log.Debugf("Engine", "Engine pid %d exited: %v", p.pid(), p.err)
	}
	s.mu.Unlock()
	s.publish(events)
}

// terminate asks p to exit, then kills it. Caller holds s.mu.
func (s *Supervisor) terminate(p *process) error {
	pid := p.pid()
	if err := terminateProcess(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		core.Log.Warnf("Engine", "Terminate pid %d: %v", pid, err)
	}
	select {
	case <-p.done:
		core.Log.Infof("Engine", "Engine pid %d stopped", pid)
		return nil
	case <-time.After(s.opts.StopTimeout):
	}

	core.Log.Warnf("Engine", "Engine pid %d did not exit within %s, killing", pid, s.opts.StopTimeout)
	if err := killProcess(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		core.Log.Warnf("Engine", "Kill pid %d: %v", pid, err)
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(s.opts.StopTimeout):
		return &LifecycleError{Op: "stop", PID: pid, Err: errors.New("process did not exit after kill")}
	}
}

// abort tears down a process that never reached the running state.
func (s *Supervisor) abort(p *process) {
	if err := s.terminate(p); err != nil {
		core.Log.Errorf("Engine", "%v", err)
	}
}

func (s *Supervisor) disableProxy() {
	if err := s.opts.Toggle.Disable(); err != nil {
		core.Log.Warnf("Engine", "Disable system proxy: %v", err)
	}
}

// absPath returns p made absolute against the current directory. Empty
// paths and paths that cannot be resolved are returned unchanged.
func absPath(p string) string {
	if p == "" {
		return p
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

// setState records the transition and returns the event describing it.
// Caller holds s.mu.
func (s *Supervisor) setState(next State, configPath string) core.Event {
	old := s.state
	s.state = next
	return core.Event{Type: core.EventEngineStateChanged, Payload: core.EngineStatePayload{
		OldState:   old.String(),
		NewState:   next.String(),
		ConfigPath: configPath,
	}}
}

// publish fires events outside s.mu so handlers may call back into the
// supervisor.
func (s *Supervisor) publish(events []core.Event) {
	for _, e := range events {
		s.opts.Bus.Publish(e)
	}
}
