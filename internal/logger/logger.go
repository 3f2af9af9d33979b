// Package logger provides leveled logging with support for debug, info, warn, and error levels.
// It wraps a zap SugaredLogger behind a small process-wide API so call sites stay printf-style.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global logger instance. A no-op logger until Init is called so that
	// packages and tests can log without setup.
	defaultLogger = zap.NewNop().Sugar()
)

// parseLevel maps a config level name to a zap level, defaulting to info
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init initializes the default logger with the specified level and format.
// "json" uses the production encoder, "text" a development console encoder.
func Init(level string, format string) {
	var config zap.Config
	if strings.ToLower(format) == "text" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	config.Level = zap.NewAtomicLevelAt(parseLevel(level))
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	l, err := config.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		// Fall back to a basic stderr logger rather than losing output.
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.Lock(os.Stderr),
			parseLevel(level),
		)
		l = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	defaultLogger = l.Sugar()
}

// With returns the default logger with structured fields attached, for
// call sites that want key/value context (e.g. a poll cycle ID).
func With(args ...interface{}) *zap.SugaredLogger {
	return defaultLogger.Desugar().WithOptions(zap.AddCallerSkip(-1)).Sugar().With(args...)
}

// Sync flushes buffered log entries
func Sync() {
	_ = defaultLogger.Sync()
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	defaultLogger.Debugf(format, args...)
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	defaultLogger.Infof(format, args...)
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	defaultLogger.Warnf(format, args...)
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	defaultLogger.Errorf(format, args...)
}

// Fatal logs a message at FatalLevel and exits
func Fatal(format string, args ...interface{}) {
	if defaultLogger.Desugar().Core().Enabled(zapcore.FatalLevel) {
		defaultLogger.Fatalf(format, args...)
	}
	// The no-op logger does not exit on Fatal.
	os.Stderr.WriteString("[FATAL] " + fmt.Sprintf(format, args...) + "\n")
	os.Exit(1)
}
