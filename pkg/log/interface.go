// Package log provides a structured logging interface for the training and
// serving pipelines.
//
// The Logger interface is slog-shaped so call sites read the same regardless of
// backend; the production backend is zerolog (see logger.go). Logging is never
// configured on import: the process calls Setup once and passes the returned
// provider's loggers to the components that need them.
//
// Example usage:
//
//	provider, err := log.Setup(log.Options{Level: "info", Format: "json"})
//	logger := provider.GetLoggerWithName("pipeline").With(
//	    log.PhaseKey, log.PhaseTraining,
//	)
//	logger.Info("Model trained",
//	    log.TreesKey, 300,
//	    log.AccuracyKey, 0.91,
//	)
package log

import (
	"context"
	"fmt"
	"strings"
)

// Logger is the logging surface every component depends on.
//
// fields are alternating key/value pairs; keys should come from
// attributes.go so that log queries work across phases. An error passed to
// Error under ErrAttrKey is rendered with its stack when the backend has one.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)

	// With returns a child logger that adds fields to every record.
	//
	//	stage := logger.With(log.PhaseKey, log.PhaseTransformation)
	//	stage.Info("Preprocessor saved", log.PathKey, path)
	With(fields ...any) Logger

	// Enabled guards expensive field construction:
	//
	//	if logger.Enabled(ctx, log.LevelDebug) {
	//	    logger.Debug("Per-class report", "report", report.String())
	//	}
	Enabled(ctx context.Context, level Level) bool
}

// Level は slog.Level と同じ数値を使う。
type Level int

const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// ParseLevel converts "debug", "info", "warn" or "error" into a Level. An
// empty string means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %q", s)
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LoggerProvider hands out loggers sharing one sink and level. Provider
// (zerolog) and TestLoggerProvider (buffer) implement it.
type LoggerProvider interface {
	GetLogger() Logger
	// GetLoggerWithName tags every record with the component name.
	GetLoggerWithName(name string) Logger
	SetLevel(level Level)
}
