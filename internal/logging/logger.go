package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base = defaultLogger()
)

func defaultLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().
		Timestamp().
		Logger().
		Level(envLevel())
}

func envLevel() zerolog.Level {
	if os.Getenv("DEBUG") == "true" {
		return zerolog.DebugLevel
	}
	if raw := os.Getenv("CHAPELOTAS_LOG_LEVEL"); raw != "" {
		if lvl, err := zerolog.ParseLevel(raw); err == nil {
			return lvl
		}
	}
	return zerolog.InfoLevel
}

// Setup replaces the process logger. An empty file keeps console output on
// stderr; otherwise JSON lines are appended to file. The returned func closes
// the file.
func Setup(level, file string) (func(), error) {
	closer := func() {}

	lvl := envLevel()
	if level != "" {
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return closer, fmt.Errorf("parse log level: %w", err)
		}
		lvl = parsed
	}

	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return closer, fmt.Errorf("create logs dir: %w", err)
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return closer, fmt.Errorf("open log file: %w", err)
		}
		closer = func() { _ = f.Close() }
		w = f
	}

	SetLogger(zerolog.New(w).With().Timestamp().Logger().Level(lvl))
	return closer, nil
}

// SetLogger swaps the underlying logger (tests use this to capture output).
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	base = l
	mu.Unlock()
}

// For returns a logger tagged with the subsystem name.
func For(subsystem string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With().Str("subsystem", subsystem).Logger()
}

// Info logs an informational message
func Info(subsystem, format string, args ...any) {
	l := For(subsystem)
	l.Info().Msgf(format, args...)
}

// Debug logs a debug message (only shown at debug level)
func Debug(subsystem, format string, args ...any) {
	l := For(subsystem)
	l.Debug().Msgf(format, args...)
}

// Warn logs a recoverable problem
func Warn(subsystem, format string, args ...any) {
	l := For(subsystem)
	l.Warn().Msgf(format, args...)
}

// Error logs a failure together with its cause
func Error(subsystem string, err error, format string, args ...any) {
	l := For(subsystem)
	l.Error().Err(err).Msgf(format, args...)
}

// Truncate truncates a string to maxLen and adds ellipsis
func Truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
