package utils

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// LoggerOptions configures InitLogger.
type LoggerOptions struct {
	Level           string
	Output          io.Writer
	Prefix          string
	ReportTimestamp bool
}

// InitLogger builds a structured logger with the given options.
func InitLogger(opts LoggerOptions) *log.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	return log.NewWithOptions(out, log.Options{
		Level:           parseLevel(opts.Level),
		Prefix:          opts.Prefix,
		ReportTimestamp: opts.ReportTimestamp,
		TimeFormat:      time.RFC3339,
	})
}

func parseLevel(s string) log.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// InitDefaultLogger builds the process-wide logger. DELIBERATE_LOG_LEVEL
// overrides the level.
func InitDefaultLogger() *log.Logger {
	level := os.Getenv("DELIBERATE_LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	logger := InitLogger(LoggerOptions{
		Level:           level,
		Output:          os.Stderr,
		Prefix:          "deliberate",
		ReportTimestamp: true,
	})
	SetDefaultLogger(logger)
	return logger
}

// InitSessionLogger writes interception logs for one agent session under
// historyDir. Hook invocations cannot log to the terminal, so each session
// gets its own file.
func InitSessionLogger(historyDir, sessionID string) (*log.Logger, error) {
	dir := filepath.Join(historyDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "session_"+sessionID+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	level := os.Getenv("DELIBERATE_LOG_LEVEL")
	return InitLogger(LoggerOptions{
		Level:           level,
		Output:          f,
		Prefix:          "session",
		ReportTimestamp: true,
	}), nil
}

var (
	defaultLoggerMu sync.RWMutex
	defaultLogger   = log.Default()
)

// SetDefaultLogger replaces the package-level logger used by the wrappers.
func SetDefaultLogger(logger *log.Logger) {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = logger
}

// GetDefaultLogger returns the package-level logger.
func GetDefaultLogger() *log.Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

func Debug(msg any, keyvals ...any) { GetDefaultLogger().Debug(msg, keyvals...) }
func Info(msg any, keyvals ...any)  { GetDefaultLogger().Info(msg, keyvals...) }
func Warn(msg any, keyvals ...any)  { GetDefaultLogger().Warn(msg, keyvals...) }
func Error(msg any, keyvals ...any) { GetDefaultLogger().Error(msg, keyvals...) }

func With(keyvals ...any) *log.Logger      { return GetDefaultLogger().With(keyvals...) }
func WithPrefix(prefix string) *log.Logger { return GetDefaultLogger().WithPrefix(prefix) }
