//go:build darwin || linux

package sysproxy

import (
	"errors"
	"strings"
	"sync"
)

// fakeRunner records commands and serves canned output.
type fakeRunner struct {
	mu       sync.Mutex
	missing  bool
	failOn   string // substring of the joined command that should fail
	outputs  map[string]string
	commands []string
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	if f.missing {
		return "", errors.New("executable file not found in $PATH")
	}
	return "/usr/bin/" + name, nil
}

func (f *fakeRunner) Run(name string, args ...string) (string, error) {
	cmd := strings.Join(append([]string{name}, args...), " ")
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()
	if f.failOn != "" && strings.Contains(cmd, f.failOn) {
		return "", errors.New("permission denied")
	}
	return f.outputs[cmd], nil
}

func (f *fakeRunner) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}
