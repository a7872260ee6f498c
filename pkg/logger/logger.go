package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	Logger       *slog.Logger
	currentLevel LogLevel = INFO // Default logging level
)

func init() {
	Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
}

type Options struct {
	Level string
	File  string
}

// Configure replaces the package logger. A bad level or an unwritable file
// still leaves a usable stdout logger behind; the problems are returned joined.
func Configure(opts Options) error {
	level := currentLevel
	var levelErr error
	if strings.TrimSpace(opts.Level) != "" {
		level, levelErr = ParseLogLevel(opts.Level)
	}

	writer := io.Writer(os.Stdout)
	var fileErr error
	if path := strings.TrimSpace(opts.File); path != "" {
		writer, fileErr = openWithStdout(path)
	}

	currentLevel = level
	Logger = slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: slogLevel(level)}))

	if levelErr != nil || fileErr != nil {
		return errors.Join(levelErr, fileErr)
	}
	return nil
}

func openWithStdout(path string) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return os.Stdout, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stdout, err
	}
	return io.MultiWriter(os.Stdout, file), nil
}

func SetLogLevel(level LogLevel) {
	currentLevel = level
}

func Enabled(level LogLevel) bool {
	return currentLevel <= level
}

func ParseLogLevel(value string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("invalid log level %q", value)
	}
}

func slogLevel(level LogLevel) slog.Level {
	switch level {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Debug(msg string, args ...any) {
	if Enabled(DEBUG) {
		Logger.Debug(msg, args...)
	}
}

func Info(msg string, args ...any) {
	if Enabled(INFO) {
		Logger.Info(msg, args...)
	}
}

func Warn(msg string, args ...any) {
	if Enabled(WARN) {
		Logger.Warn(msg, args...)
	}
}

func Error(msg string, args ...any) {
	if Enabled(ERROR) {
		Logger.Error(msg, args...)
	}
}
