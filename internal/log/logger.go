// Package log implements structured logging using slog.
//
// Logs go to stderr so that stdout stays free for examine results. A logrus
// logger sharing the same writers backs the logger handed to gosip.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/sipzamine/internal/config"
)

const (
	defaultPattern = "%time [%level] %prefix%msg %field\n"
	defaultTime    = "2006-01-02 15:04:05.000"
)

var (
	mu      sync.RWMutex
	backend = newBackend(os.Stderr, logrus.InfoLevel, defaultPattern, defaultTime)

	// stderr is replaced in tests.
	stderr io.Writer = os.Stderr
)

// Init initializes the global logger based on configuration.
func Init(cfg config.LogConfig) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	writers := []io.Writer{stderr}
	if cfg.Outputs.File.Enabled {
		w, err := createFileWriter(cfg.Outputs.File)
		if err != nil {
			return fmt.Errorf("failed to create file output: %w", err)
		}
		writers = append(writers, w)
	}
	out := io.MultiWriter(writers...)

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: level,
	}
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		return fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}
	slog.SetDefault(slog.New(handler))

	pattern := cfg.Pattern
	if pattern == "" {
		pattern = defaultPattern
	}
	timeLayout := cfg.Time
	if timeLayout == "" {
		timeLayout = defaultTime
	}
	mu.Lock()
	backend = newBackend(out, toLogrusLevel(level), pattern, timeLayout)
	mu.Unlock()
	return nil
}

// parseLevel converts string level to slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", levelStr)
	}
}

func toLogrusLevel(level slog.Level) logrus.Level {
	switch {
	case level <= slog.LevelDebug:
		return logrus.DebugLevel
	case level <= slog.LevelInfo:
		return logrus.InfoLevel
	case level <= slog.LevelWarn:
		return logrus.WarnLevel
	default:
		return logrus.ErrorLevel
	}
}

// createFileWriter creates a lumberjack file writer for log rotation.
func createFileWriter(fc config.FileOutputConfig) (io.Writer, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}

func newBackend(w io.Writer, level logrus.Level, pattern, timeLayout string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&formatter{pattern: pattern, time: timeLayout})
	return l
}

func currentBackend() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}
