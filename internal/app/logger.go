package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger. Every record carries the service name and the
// environment so server and worker output can share one sink.
func NewLogger(cfg *Config, service string) *slog.Logger {
	return newLogger(os.Stdout, cfg, service)
}

func newLogger(w io.Writer, cfg *Config, service string) *slog.Logger {
	if cfg == nil {
		cfg = &Config{}
	}
	opts := &slog.HandlerOptions{AddSource: cfg.IsProduction(), Level: parseLevel(cfg.LogLevel)}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	attrs := []slog.Attr{slog.String("service", service)}
	if cfg.AppEnv != "" {
		attrs = append(attrs, slog.String("env", cfg.AppEnv))
	}
	return slog.New(handler.WithAttrs(attrs))
}

// parseLevel falls back to info for unknown names.
func parseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
