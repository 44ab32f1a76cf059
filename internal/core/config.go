package core

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the engine section.
const (
	DefaultEngineBinary  = "xray"
	DefaultResourcesDir  = "resources"
	DefaultEngineConfig  = "config.json"
	DefaultListenHost    = "127.0.0.1"
	DefaultListenPort    = 10801
	DefaultStopTimeout   = 5 * time.Second
	DefaultReadyTimeout  = 5 * time.Second
	DefaultHealthTarget  = "www.gstatic.com:80"
	defaultHealthPeriod  = 30 * time.Second
	defaultRetryInterval = 10 * time.Second
)

// EngineSettings describes where the proxy engine lives and how it is run.
type EngineSettings struct {
	// Binary is the executable base name; ".exe" is appended on Windows.
	Binary string `yaml:"binary,omitempty"`
	// InstallDir is the primary search directory and the engine's working
	// directory. Empty means the directory of the running executable.
	InstallDir string `yaml:"install_dir,omitempty"`
	// ResourcesDir is the secondary search directory, relative to InstallDir.
	ResourcesDir string `yaml:"resources_dir,omitempty"`
	// ConfigFile is where the generated engine config is written,
	// relative to InstallDir.
	ConfigFile string `yaml:"config_file,omitempty"`
	// ListenPort is the local SOCKS listener port.
	ListenPort int `yaml:"listen_port,omitempty"`
	// StopTimeout bounds the graceful termination wait, e.g. "5s".
	StopTimeout string `yaml:"stop_timeout,omitempty"`
	// ReadyTimeout bounds the wait for the listener after launch.
	ReadyTimeout string `yaml:"ready_timeout,omitempty"`
}

// SavedLink is one stored connection link.
type SavedLink struct {
	URI  string `yaml:"uri"`
	Name string `yaml:"name,omitempty"`
}

// ReconnectConfig controls automatic engine restarts after a crash.
type ReconnectConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Interval   string `yaml:"interval,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
}

// HealthCheckConfig controls periodic probing through the local listener.
type HealthCheckConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval,omitempty"`
	// Target is a host:port dialed through the SOCKS listener.
	Target string `yaml:"target,omitempty"`
	// Failures is the number of consecutive failed probes before the
	// engine is reported unhealthy.
	Failures int `yaml:"failures,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	Engine    EngineSettings    `yaml:"engine"`
	Links     []SavedLink       `yaml:"links"`
	Selected  int               `yaml:"selected"`
	Reconnect ReconnectConfig   `yaml:"reconnect,omitempty"`
	Health    HealthCheckConfig `yaml:"health,omitempty"`
	Logging   LogConfig         `yaml:"logging,omitempty"`
}

// ConfigManager handles loading, saving and mutating the configuration.
type ConfigManager struct {
	mu       sync.RWMutex
	config   Config
	filePath string
	bus      *EventBus
}

// NewConfigManager creates a config manager that reads from the given file.
func NewConfigManager(filePath string, bus *EventBus) *ConfigManager {
	return &ConfigManager{
		filePath: filePath,
		bus:      bus,
		config:   defaultConfig(),
	}
}

// defaultConfig returns an empty but valid configuration.
func defaultConfig() Config {
	return Config{
		Engine: EngineSettings{
			Binary:       DefaultEngineBinary,
			ResourcesDir: DefaultResourcesDir,
			ConfigFile:   DefaultEngineConfig,
			ListenPort:   DefaultListenPort,
			StopTimeout:  DefaultStopTimeout.String(),
			ReadyTimeout: DefaultReadyTimeout.String(),
		},
		Links: []SavedLink{},
	}
}

// Path returns the config file location.
func (cm *ConfigManager) Path() string {
	return cm.filePath
}

// Load reads and parses the configuration from disk.
// If the config file does not exist, it creates one with default values.
func (cm *ConfigManager) Load() error {
	data, err := os.ReadFile(cm.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			Log.Infof("Core", "Config %s not found, creating default config", cm.filePath)
			cm.mu.Lock()
			cm.config = defaultConfig()
			cm.mu.Unlock()
			if saveErr := cm.Save(); saveErr != nil {
				return fmt.Errorf("[Core] failed to create default config: %w", saveErr)
			}
			return nil
		}
		return fmt.Errorf("[Core] failed to read config %s: %w", cm.filePath, err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("[Core] failed to parse config: %w", err)
	}
	cfg.Engine.fillDefaults()
	if cfg.Selected < 0 || cfg.Selected >= len(cfg.Links) {
		cfg.Selected = 0
	}

	cm.mu.Lock()
	cm.config = cfg
	cm.mu.Unlock()

	cm.bus.Publish(Event{Type: EventConfigReloaded})
	return nil
}

// Save writes the current configuration to disk.
func (cm *ConfigManager) Save() error {
	cm.mu.RLock()
	data, err := yaml.Marshal(&cm.config)
	cm.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("[Core] failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(cm.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("[Core] failed to create config dir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(cm.filePath, data, 0o644); err != nil {
		return fmt.Errorf("[Core] failed to write config %s: %w", cm.filePath, err)
	}

	return nil
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	cfg := cm.config
	cfg.Links = append([]SavedLink(nil), cm.config.Links...)
	return cfg
}

// Set replaces the entire config, filling defaults.
// Publishes EventConfigReloaded.
func (cm *ConfigManager) Set(cfg Config) {
	cfg.Engine.fillDefaults()
	if cfg.Links == nil {
		cfg.Links = []SavedLink{}
	}
	cm.mu.Lock()
	cm.config = cfg
	cm.mu.Unlock()

	cm.bus.Publish(Event{Type: EventConfigReloaded})
}

// Links returns the stored links.
func (cm *ConfigManager) Links() []SavedLink {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	result := make([]SavedLink, len(cm.config.Links))
	copy(result, cm.config.Links)
	return result
}

// AddLink appends a link and returns its index. Adding a URI that is
// already stored returns the existing index and updates its name if one
// was given.
func (cm *ConfigManager) AddLink(uri, name string) int {
	uri = strings.TrimSpace(uri)

	cm.mu.Lock()
	idx := -1
	for i, l := range cm.config.Links {
		if l.URI == uri {
			idx = i
			if name != "" {
				cm.config.Links[i].Name = name
			}
			break
		}
	}
	if idx < 0 {
		cm.config.Links = append(cm.config.Links, SavedLink{URI: uri, Name: name})
		idx = len(cm.config.Links) - 1
	}
	cm.mu.Unlock()

	cm.bus.Publish(Event{Type: EventLinksChanged})
	return idx
}

// RemoveLink deletes the link at index i. The selection follows the
// previously selected link where possible.
func (cm *ConfigManager) RemoveLink(i int) error {
	cm.mu.Lock()
	if i < 0 || i >= len(cm.config.Links) {
		n := len(cm.config.Links)
		cm.mu.Unlock()
		return fmt.Errorf("link index %d out of range (have %d)", i, n)
	}
	cm.config.Links = append(cm.config.Links[:i], cm.config.Links[i+1:]...)
	switch {
	case len(cm.config.Links) == 0:
		cm.config.Selected = 0
	case cm.config.Selected > i, cm.config.Selected >= len(cm.config.Links):
		cm.config.Selected--
	}
	cm.mu.Unlock()

	cm.bus.Publish(Event{Type: EventLinksChanged})
	return nil
}

// Select marks the link at index i as the one used by connect.
func (cm *ConfigManager) Select(i int) error {
	cm.mu.Lock()
	if i < 0 || i >= len(cm.config.Links) {
		n := len(cm.config.Links)
		cm.mu.Unlock()
		return fmt.Errorf("link index %d out of range (have %d)", i, n)
	}
	cm.config.Selected = i
	cm.mu.Unlock()

	cm.bus.Publish(Event{Type: EventLinksChanged})
	return nil
}

// SelectedLink returns the currently selected link.
func (cm *ConfigManager) SelectedLink() (SavedLink, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if len(cm.config.Links) == 0 {
		return SavedLink{}, false
	}
	i := cm.config.Selected
	if i < 0 || i >= len(cm.config.Links) {
		i = 0
	}
	return cm.config.Links[i], true
}

// ImportPathsFile adds every URI from a JSON array file (the format the
// legacy desktop client kept its links in). Returns the number of links
// that were not already stored.
func (cm *ConfigManager) ImportPathsFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	var uris []string
	if err := json.Unmarshal(data, &uris); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}

	before := len(cm.Links())
	for _, uri := range uris {
		if strings.TrimSpace(uri) == "" {
			continue
		}
		cm.AddLink(uri, "")
	}
	return len(cm.Links()) - before, nil
}

func (e *EngineSettings) fillDefaults() {
	if e.Binary == "" {
		e.Binary = DefaultEngineBinary
	}
	if e.ResourcesDir == "" {
		e.ResourcesDir = DefaultResourcesDir
	}
	if e.ConfigFile == "" {
		e.ConfigFile = DefaultEngineConfig
	}
	if e.ListenPort <= 0 || e.ListenPort > 65535 {
		e.ListenPort = DefaultListenPort
	}
}

// BinaryName returns the platform-specific executable file name.
func (e EngineSettings) BinaryName() string {
	name := e.Binary
	if name == "" {
		name = DefaultEngineBinary
	}
	if runtime.GOOS == "windows" && !strings.HasSuffix(strings.ToLower(name), ".exe") {
		name += ".exe"
	}
	return name
}

// ResolvedInstallDir returns InstallDir as an absolute path, defaulting
// to the directory of the running executable. A relative InstallDir is
// taken relative to the working directory.
func (e EngineSettings) ResolvedInstallDir() string {
	if e.InstallDir != "" {
		dir, err := filepath.Abs(e.InstallDir)
		if err != nil {
			Log.Warnf("Core", "Cannot resolve install dir %q: %v", e.InstallDir, err)
			return e.InstallDir
		}
		return dir
	}
	exe, err := os.Executable()
	if err != nil {
		Log.Warnf("Core", "Cannot determine executable path, using working directory: %v", err)
		return "."
	}
	return filepath.Dir(exe)
}

// ResolvedResourcesDir returns the secondary search directory.
func (e EngineSettings) ResolvedResourcesDir() string {
	dir := e.ResourcesDir
	if dir == "" {
		dir = DefaultResourcesDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(e.ResolvedInstallDir(), dir)
}

// ConfigPath returns the absolute engine config path.
func (e EngineSettings) ConfigPath() string {
	file := e.ConfigFile
	if file == "" {
		file = DefaultEngineConfig
	}
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(e.ResolvedInstallDir(), file)
}

// Port returns the listener port, falling back to the default.
func (e EngineSettings) Port() int {
	if e.ListenPort <= 0 || e.ListenPort > 65535 {
		return DefaultListenPort
	}
	return e.ListenPort
}

// ListenAddr returns the local listener address, e.g. "127.0.0.1:10801".
func (e EngineSettings) ListenAddr() string {
	return net.JoinHostPort(DefaultListenHost, strconv.Itoa(e.Port()))
}

// StopTimeoutDuration parses StopTimeout.
func (e EngineSettings) StopTimeoutDuration() time.Duration {
	return ParseDurationDefault(e.StopTimeout, DefaultStopTimeout)
}

// ReadyTimeoutDuration parses ReadyTimeout.
func (e EngineSettings) ReadyTimeoutDuration() time.Duration {
	return ParseDurationDefault(e.ReadyTimeout, DefaultReadyTimeout)
}

// IntervalDuration parses Interval.
func (r ReconnectConfig) IntervalDuration() time.Duration {
	return ParseDurationDefault(r.Interval, defaultRetryInterval)
}

// IntervalDuration parses Interval.
func (h HealthCheckConfig) IntervalDuration() time.Duration {
	return ParseDurationDefault(h.Interval, defaultHealthPeriod)
}

// TargetAddr returns the probe target, falling back to the default.
func (h HealthCheckConfig) TargetAddr() string {
	if h.Target == "" {
		return DefaultHealthTarget
	}
	return h.Target
}

// FailureThreshold returns Failures, at least 1.
func (h HealthCheckConfig) FailureThreshold() int {
	if h.Failures <= 0 {
		return 3
	}
	return h.Failures
}

// ParseDurationDefault parses s, returning def when s is empty, invalid
// or not positive.
func ParseDurationDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
