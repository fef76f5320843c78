package utils

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides leveled logging with verbose mode support on top of zap.
type Logger struct {
	mu      sync.RWMutex
	verbose bool
	level   zap.AtomicLevel
	zap     *zap.Logger
}

var (
	loggerInstance *Logger
	loggerMu       sync.Mutex
)

// newConsoleCore writes human-readable lines to stderr.
func newConsoleCore(level zap.AtomicLevel) zapcore.Core {
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stderr), level)
}

// NewLogger creates a logger around an existing zap core. Used by tests with
// zaptest/observer and by callers that need a non-default sink.
func NewLogger(core zapcore.Core, level zap.AtomicLevel) *Logger {
	return &Logger{
		level: level,
		zap:   zap.New(core),
	}
}

// GetLogger returns the process-wide logger instance.
func GetLogger() *Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if loggerInstance == nil {
		level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
		loggerInstance = NewLogger(newConsoleCore(level), level)
	}
	return loggerInstance
}

// ReplaceLogger swaps the process-wide logger and returns a func restoring the previous one.
func ReplaceLogger(l *Logger) func() {
	loggerMu.Lock()
	prev := loggerInstance
	loggerInstance = l
	loggerMu.Unlock()
	return func() {
		loggerMu.Lock()
		loggerInstance = prev
		loggerMu.Unlock()
	}
}

// SetVerboseMode sets the verbose mode globally.
func SetVerboseMode(verbose bool) {
	GetLogger().SetVerbose(verbose)
}

// SetVerbose toggles debug output for this logger instance.
func (l *Logger) SetVerbose(verbose bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = verbose
	if verbose {
		l.level.SetLevel(zapcore.DebugLevel)
	} else {
		l.level.SetLevel(zapcore.InfoLevel)
	}
}

// SetLevel sets the minimum level from a config string (debug, info, warn, error).
func (l *Logger) SetLevel(name string) error {
	if name == "" {
		return nil
	}
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = lvl <= zapcore.DebugLevel
	l.level.SetLevel(lvl)
	return nil
}

// IsVerbose returns whether verbose mode is enabled.
func (l *Logger) IsVerbose() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verbose
}

// Zap returns the structured logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// Named returns a structured child logger for a component.
func (l *Logger) Named(name string) *zap.Logger {
	return l.zap.Named(name)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	_ = l.zap.Sync()
}

// formatMessage formats a message with optional printf-style arguments.
func formatMessage(msgOrFormat string, args ...interface{}) string {
	if len(args) > 0 {
		return fmt.Sprintf(msgOrFormat, args...)
	}
	return msgOrFormat
}

// Debug logs a debug message (only shown when verbose=true).
// Can be used with a simple message or printf-style format string with args.
func (l *Logger) Debug(msgOrFormat string, args ...interface{}) {
	l.zap.Debug(formatMessage(msgOrFormat, args...))
}

// Info logs an info message.
func (l *Logger) Info(msgOrFormat string, args ...interface{}) {
	l.zap.Info(formatMessage(msgOrFormat, args...))
}

// Warn logs a warning message.
func (l *Logger) Warn(msgOrFormat string, args ...interface{}) {
	l.zap.Warn(formatMessage(msgOrFormat, args...))
}

// Error logs an error message.
func (l *Logger) Error(msgOrFormat string, args ...interface{}) {
	l.zap.Error(formatMessage(msgOrFormat, args...))
}

// Debugf is a convenience function that logs a debug message using the global logger.
func Debugf(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

// Infof is a convenience function that logs an info message using the global logger.
func Infof(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

// Warnf is a convenience function that logs a warning message using the global logger.
func Warnf(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

// Errorf is a convenience function that logs an error message using the global logger.
func Errorf(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}
