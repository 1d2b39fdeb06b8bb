// Package logger provides structured logging for the downloader and
// converter, built on the standard library's slog package with configurable
// format, level, and rotating file output.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tickdata/go-bybit-ohlcv/internal/config"
)

// Manager owns the base logger and the underlying writer so that file-backed
// logs can be flushed and closed at shutdown.
type Manager struct {
	base   *slog.Logger
	writer io.WriteCloser
}

// New creates a logger manager from the logging configuration.
func New(cfg config.LoggingConfig) (*Manager, error) {
	writer, err := createWriter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create log writer: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.Level == "debug",
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339Nano))
				}
			case slog.LevelKey:
				if level, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(strings.ToUpper(level.String()))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	return &Manager{base: slog.New(handler), writer: writer}, nil
}

// Logger returns the base logger.
func (m *Manager) Logger() *slog.Logger {
	return m.base
}

// Component returns a logger tagged with a component attribute.
func (m *Manager) Component(name string) *slog.Logger {
	return m.base.With(slog.String("component", name))
}

// Close releases the log writer.
func (m *Manager) Close() error {
	if m.writer != nil {
		return m.writer.Close()
	}
	return nil
}

// ForJob returns a logger tagged with the identifying attributes of one job.
func ForJob(base *slog.Logger, jobID, symbol, market, date string) *slog.Logger {
	return base.With(
		slog.String("job_id", jobID),
		slog.String("symbol", symbol),
		slog.String("market", market),
		slog.String("date", date),
	)
}

// createWriter builds the output writer for the configured destination,
// using lumberjack rotation for file output.
func createWriter(cfg config.LoggingConfig) (io.WriteCloser, error) {
	switch cfg.Output {
	case "stdout":
		return nopWriteCloser{os.Stdout}, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file path is required when output is 'file'")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		return &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}, nil
	default:
		return nopWriteCloser{os.Stderr}, nil
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// parseLevel converts a string log level to slog.Level, defaulting to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
