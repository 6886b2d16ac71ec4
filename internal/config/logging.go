package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

// Logger builds the process logger from LogFile and LogLevel: text on
// stderr, JSON lines in the log file. The CLI and the bridge may append to
// the same file, so file records carry the writer's pid. The returned func
// closes the file.
func (c *Config) Logger() (*slog.Logger, func() error) {
	return SetupLogger(c.LogFile, c.Level())
}

// SetupLogger is Logger for an explicit file and level. When the file cannot
// be opened the logger writes to stderr only.
func SetupLogger(logFile string, level slog.Level) (*slog.Logger, func() error) {
	noop := func() error { return nil }

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		logger := newLogger(os.Stderr, nil, level)
		logger.Warn("log dir unavailable, logging to stderr only", "path", logFile, "error", err)
		return logger, noop
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := newLogger(os.Stderr, nil, level)
		logger.Warn("log file unavailable, logging to stderr only", "path", logFile, "error", err)
		return logger, noop
	}
	return newLogger(os.Stderr, file, level), file.Close
}

func newLogger(stderr, file io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	console := slog.NewTextHandler(stderr, opts)
	if file == nil {
		return slog.New(console)
	}
	records := slog.NewJSONHandler(file, opts).WithAttrs([]slog.Attr{slog.Int("pid", os.Getpid())})
	return slog.New(slogmulti.Fanout(console, records))
}
