// Package log configures the process-wide structured logger. Packages
// log through slog's default logger; the cmd mains install one of
// these at startup so every line carries the component name.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger and stamps each record with a component.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level     slog.Level
	Component string
	Handler   slog.Handler
}

// DefaultConfig reads LOG_LEVEL and logs text to stdout.
func DefaultConfig(component string) Config {
	return Config{
		Level:     levelFromEnv(),
		Component: component,
	}
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func New(config Config) *Logger {
	handler := config.Handler
	if handler == nil {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: config.Level})
	}
	return &Logger{Logger: slog.New(handler).With("component", config.Component)}
}

// SetDefault installs the logger as slog's process default.
func SetDefault(logger *Logger) {
	slog.SetDefault(logger.Logger)
}
