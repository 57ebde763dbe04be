package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/purelink-bridge/internal/infrastructure/config"
)

const (
	serviceName = "purelink"
	logFileMode = 0o640
)

// Logger is a slog.Logger that carries service and version fields and may
// own a log file. It satisfies the Logger interfaces of the purelink, host
// and mqtt packages.
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// New builds a Logger from the logging section of the config. Output is
// stdout, stderr or an append-only file.
func New(cfg config.LoggingConfig, version string) (*Logger, error) {
	var (
		out    io.Writer = os.Stdout
		closer io.Closer
	)
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		out = os.Stderr
	case "file":
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFileMode)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		out, closer = f, f
	}

	l := NewWithWriter(out, cfg, version)
	l.closer = closer
	return l, nil
}

// NewWithWriter builds a Logger writing to w; cfg.Output is ignored.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(h).With("service", serviceName, "version", version)}
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// parseLevel maps a config level name to slog, defaulting to info.
func parseLevel(name string) slog.Level {
	if lvl, ok := levels[strings.ToLower(name)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// With returns a child Logger with extra attributes, e.g.
// log.With("component", "session"). The child shares the parent's file.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), closer: l.closer}
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Default is the logger used before config is loaded: JSON at info level on
// stderr, leaving stdout to commands that print results.
func Default() *Logger {
	return NewWithWriter(os.Stderr, config.LoggingConfig{Level: "info"}, "dev")
}
