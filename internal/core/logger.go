package core

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

// LogConfig holds logging configuration from YAML.
type LogConfig struct {
	Level      string            `yaml:"level,omitempty"`
	Components map[string]string `yaml:"components,omitempty"`
}

// Logger provides per-component log level filtering on top of logrus.
type Logger struct {
	mu          sync.RWMutex
	globalLevel LogLevel
	components  map[string]LogLevel // lowercase component name → level
	out         *logrus.Logger
}

// ParseLevel converts a string level name to LogLevel.
// Returns LevelInfo for unrecognized values.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info", "":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "off", "none":
		return LevelOff
	default:
		return LevelInfo
	}
}

// NewLogger creates a Logger from config writing to stderr.
func NewLogger(cfg LogConfig) *Logger {
	out := logrus.New()
	out.SetOutput(os.Stderr)
	out.SetLevel(logrus.DebugLevel) // filtering happens per component
	out.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	l := &Logger{out: out}
	l.Configure(cfg)
	return l
}

// Configure replaces the global and per-component levels.
func (l *Logger) Configure(cfg LogConfig) {
	components := make(map[string]LogLevel, len(cfg.Components))
	for name, level := range cfg.Components {
		components[strings.ToLower(name)] = ParseLevel(level)
	}

	l.mu.Lock()
	l.globalLevel = ParseLevel(cfg.Level)
	l.components = components
	l.mu.Unlock()
}

// SetOutput redirects all log output.
func (l *Logger) SetOutput(w io.Writer) {
	l.out.SetOutput(w)
}

// levelFor returns the effective log level for a component tag.
func (l *Logger) levelFor(tag string) LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if lvl, ok := l.components[strings.ToLower(tag)]; ok {
		return lvl
	}
	return l.globalLevel
}

func (l *Logger) logf(level LogLevel, tag, format string, args ...any) {
	if l.levelFor(tag) > level {
		return
	}
	msg := "[" + tag + "] " + fmt.Sprintf(format, args...)
	switch level {
	case LevelDebug:
		l.out.Debug(msg)
	case LevelInfo:
		l.out.Info(msg)
	case LevelWarn:
		l.out.Warn(msg)
	default:
		l.out.Error(msg)
	}
}

// Debugf logs at debug level.
func (l *Logger) Debugf(tag, format string, args ...any) {
	l.logf(LevelDebug, tag, format, args...)
}

// Infof logs at info level.
func (l *Logger) Infof(tag, format string, args ...any) {
	l.logf(LevelInfo, tag, format, args...)
}

// Warnf logs at warn level.
func (l *Logger) Warnf(tag, format string, args ...any) {
	l.logf(LevelWarn, tag, format, args...)
}

// Errorf logs at error level.
func (l *Logger) Errorf(tag, format string, args ...any) {
	l.logf(LevelError, tag, format, args...)
}

// Fatalf always logs and calls os.Exit(1).
func (l *Logger) Fatalf(tag, format string, args ...any) {
	l.out.Fatal("[" + tag + "] " + fmt.Sprintf(format, args...))
}

// Writer returns an io.Writer that logs every complete line written to it
// under tag at the given level. Used to capture child process output.
func (l *Logger) Writer(tag string, level LogLevel) io.Writer {
	return &lineWriter{log: l, tag: tag, level: level}
}

type lineWriter struct {
	mu    sync.Mutex
	log   *Logger
	tag   string
	level LogLevel
	buf   []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(w.buf[:i]), "\r")
		w.buf = w.buf[i+1:]
		if line != "" {
			w.log.logf(w.level, w.tag, "%s", line)
		}
	}
	return len(p), nil
}

// Log is the global logger instance. Initialized with default (info level).
var Log = NewLogger(LogConfig{})
