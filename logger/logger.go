// Package logger provides structured logging for the soteria monitor.
//
// It wraps the standard library slog with a package-level logger that is
// initialized once at startup from the logging configuration. Supported
// outputs are stdout, stderr, syslog and a file path; formats are console
// text and JSON.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"log/syslog"
	"os"
	"runtime"

	"github.com/soteria-mail/soteria/config"
)

var globalLogger *slog.Logger

// syslogHandler adapts syslog.Writer to slog.Handler.
type syslogHandler struct {
	writer *syslog.Writer
	level  slog.Level
	attrs  []slog.Attr
}

func (h *syslogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *syslogHandler) Handle(_ context.Context, r slog.Record) error {
	msg := r.Message
	if len(h.attrs) > 0 || r.NumAttrs() > 0 {
		kv := make([]any, 0, len(h.attrs)*2+r.NumAttrs()*2)
		for _, a := range h.attrs {
			kv = append(kv, a.Key, a.Value.Any())
		}
		r.Attrs(func(a slog.Attr) bool {
			kv = append(kv, a.Key, a.Value.Any())
			return true
		})
		msg = fmt.Sprintf("%s %v", msg, kv)
	}

	switch r.Level {
	case slog.LevelDebug:
		return h.writer.Debug(msg)
	case slog.LevelWarn:
		return h.writer.Warning(msg)
	case slog.LevelError:
		return h.writer.Err(msg)
	default:
		return h.writer.Info(msg)
	}
}

func (h *syslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &syslogHandler{writer: h.writer, level: h.level, attrs: merged}
}

func (h *syslogHandler) WithGroup(string) slog.Handler { return h }

// Initialize sets up the global logger based on configuration. It returns
// the opened log file, if any, so the caller can close it on shutdown.
func Initialize(cfg config.LoggingConfig) (*os.File, error) {
	output := cfg.Output
	if output == "" {
		output = "stderr"
	}
	level := parseLogLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var logFile *os.File
	var handler slog.Handler

	switch output {
	case "stdout":
		handler = newStreamHandler(os.Stdout, cfg.Format, opts)
	case "stderr":
		handler = newStreamHandler(os.Stderr, cfg.Format, opts)
	case "syslog":
		if runtime.GOOS == "windows" {
			fmt.Fprintln(os.Stderr, "WARNING: syslog is not supported on this platform, falling back to stderr")
			handler = newStreamHandler(os.Stderr, cfg.Format, opts)
			break
		}
		writer, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, "soteria")
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: failed to connect to syslog: %v, falling back to stderr\n", err)
			handler = newStreamHandler(os.Stderr, cfg.Format, opts)
			break
		}
		handler = &syslogHandler{writer: writer, level: level}
	default:
		// Anything else is a file path.
		f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", output, err)
		}
		logFile = f
		handler = newStreamHandler(f, cfg.Format, opts)
	}

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
	return logFile, nil
}

func newStreamHandler(f *os.File, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(f, opts)
	}
	return slog.NewTextHandler(f, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the global logger instance.
func Get() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

// Info logs an info message with optional key-value pairs.
func Info(msg string, args ...any) { Get().Info(msg, args...) }

// Debug logs a debug message with optional key-value pairs.
func Debug(msg string, args ...any) { Get().Debug(msg, args...) }

// Warn logs a warning message with optional key-value pairs.
func Warn(msg string, args ...any) { Get().Warn(msg, args...) }

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) { Get().Error(msg, args...) }

// Fatal logs an error message and exits.
func Fatal(msg string, args ...any) {
	Get().Error(msg, args...)
	os.Exit(1)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger { return Get().With(args...) }
