// internal/logging/logging.go
// Package logging configures the process-wide logger and provides helpers for tracing
// traffic between chorus and model backends.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Fields is an alias so callers do not need to import logrus for structured events.
type Fields = log.Fields

var (
	mu      sync.Mutex
	logFile *os.File
	logger  = newLogger(os.Stderr)
)

func newLogger(out io.Writer) *log.Logger {
	l := log.New()
	l.SetOutput(out)
	l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	l.SetLevel(log.InfoLevel)
	return l
}

// Init routes log output to stdout and, when logPath is set, appends to that file as well.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if logPath != "" {
		if dir := filepath.Dir(logPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		logFile = file
		writers = append(writers, logFile)
	}

	logger.SetOutput(io.MultiWriter(writers...))
	return nil
}

// InitFileOnly sends log output only to logPath. Interactive commands use it so log lines do
// not scribble over the terminal UI.
func InitFileOnly(logPath string) error {
	if strings.TrimSpace(logPath) == "" {
		mu.Lock()
		defer mu.Unlock()
		logger.SetOutput(io.Discard)
		return nil
	}
	if err := Init(logPath); err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(logFile)
	return nil
}

// SetOutput replaces the log destination. Tests use it to capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

// SetDebug toggles debug level logging, which includes request payload tracing.
func SetDebug(enabled bool) {
	if enabled {
		logger.SetLevel(log.DebugLevel)
		return
	}
	logger.SetLevel(log.InfoLevel)
}

// Close detaches and closes the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	logger.SetOutput(os.Stderr)
	err := logFile.Close()
	logFile = nil
	return err
}

// Logger exposes the underlying logger for components that need levels or fields.
func Logger() *log.Logger {
	return logger
}

// WithFields starts a structured log entry.
func WithFields(fields Fields) *log.Entry {
	return logger.WithFields(fields)
}

// LogEvent records a formatted informational event.
func LogEvent(format string, args ...any) {
	logger.Info(fmt.Sprintf(format, args...))
}

// LogRequest traces one payload travelling in direction between chorus and a backend.
func LogRequest(direction, host, model, tool string, payload any) {
	if !logger.IsLevelEnabled(log.DebugLevel) {
		return
	}
	logger.Debug(buildRequestMessage(direction, host, model, tool, payload))
}

func buildRequestMessage(direction, host, model, tool string, payload any) string {
	dir := strings.TrimSpace(direction)
	if dir != "" {
		dir = strings.ToUpper(dir)
	}
	hostValue := strings.TrimSpace(host)
	if hostValue == "" {
		hostValue = "unknown"
	}
	modelValue := strings.TrimSpace(model)
	if modelValue == "" {
		modelValue = "unknown"
	}
	parts := []string{fmt.Sprintf("[%s]", dir)}
	parts = append(parts, fmt.Sprintf("host=%s", hostValue))
	parts = append(parts, fmt.Sprintf("model=%s", modelValue))
	if tool = strings.TrimSpace(tool); tool != "" {
		parts = append(parts, fmt.Sprintf("tool=%s", tool))
	}
	parts = append(parts, fmt.Sprintf("payload=%s", formatPayload(payload)))
	return strings.Join(parts, " ")
}

func formatPayload(payload any) string {
	switch v := payload.(type) {
	case nil:
		return "null"
	case string:
		if strings.TrimSpace(v) == "" {
			return `""`
		}
		return v
	case []byte:
		if len(v) == 0 {
			return "[]"
		}
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
