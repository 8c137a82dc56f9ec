package cliconfig

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/bft-labs/aesdsocket/internal/domain"
)

// ParseLevel maps a log_level value to a zerolog level.
func ParseLevel(s string) (zerolog.Level, error) {
	switch s {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	}
	return zerolog.NoLevel, fmt.Errorf("%w: unknown log level %q", domain.ErrInvalidConfig, s)
}

// NewLogger builds the process logger from a validated config. Output goes
// to LogFile when set, otherwise to stderr. The returned closer releases
// the log file and is a no-op for stderr.
func NewLogger(cfg Config) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	out, closer, err := OpenLogOutput(cfg.LogFile)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(formatWriter(out, cfg.LogFormat)).
		With().
		Timestamp().
		Logger()
	return logger, closer, nil
}

// OpenLogOutput opens path for appending, or returns stderr when path is empty.
func OpenLogOutput(path string) (io.Writer, io.Closer, error) {
	if path == "" {
		return os.Stderr, nopCloser{}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, f, nil
}

func formatWriter(out io.Writer, format string) io.Writer {
	switch format {
	case LogFormatJSON:
		return out
	case LogFormatConsole:
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return out
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
