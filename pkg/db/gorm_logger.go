package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/smith3v/tg-med-reminder/pkg/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	defaultSlowThreshold = 200 * time.Millisecond
	defaultGormLogLevel  = gormlogger.Warn
)

// slogGormLogger sends gorm output through the application slog logger so
// query logs obey the same level and file settings.
type slogGormLogger struct {
	slowThreshold             time.Duration
	ignoreRecordNotFoundError bool
	logLevel                  gormlogger.LogLevel
}

func newGormLogger(levelValue string) (gormlogger.Interface, error) {
	level := defaultGormLogLevel
	var levelErr error
	if strings.TrimSpace(levelValue) != "" {
		level, levelErr = parseGormLogLevel(levelValue)
	}
	return &slogGormLogger{
		slowThreshold:             defaultSlowThreshold,
		ignoreRecordNotFoundError: true,
		logLevel:                  level,
	}, levelErr
}

func (l *slogGormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.logLevel = level
	return &clone
}

func (l *slogGormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.printf(ctx, gormlogger.Info, slog.LevelInfo, msg, data...)
}

func (l *slogGormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.printf(ctx, gormlogger.Warn, slog.LevelWarn, msg, data...)
}

func (l *slogGormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.printf(ctx, gormlogger.Error, slog.LevelError, msg, data...)
}

func (l *slogGormLogger) printf(ctx context.Context, gl gormlogger.LogLevel, sl slog.Level, msg string, data ...interface{}) {
	if !l.enabled(gl) {
		return
	}
	logger.Logger.Log(ctx, sl, fmt.Sprintf(msg, data...))
}

func (l *slogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel == gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	attrs := []any{"elapsed", elapsed, "rows", rows, "sql", sql}

	switch {
	case err != nil:
		if l.ignoreRecordNotFoundError && errors.Is(err, gorm.ErrRecordNotFound) {
			return
		}
		if l.enabled(gormlogger.Error) {
			logger.Logger.Log(ctx, slog.LevelError, "gorm query error", append(attrs, "error", err)...)
		}
	case l.slowThreshold > 0 && elapsed > l.slowThreshold:
		if l.enabled(gormlogger.Warn) {
			logger.Logger.Log(ctx, slog.LevelWarn, "gorm slow query", append(attrs, "threshold", l.slowThreshold)...)
		}
	default:
		if l.enabled(gormlogger.Info) {
			logger.Logger.Log(ctx, slog.LevelInfo, "gorm query", attrs...)
		}
	}
}

func (l *slogGormLogger) enabled(level gormlogger.LogLevel) bool {
	if l.logLevel == gormlogger.Silent || l.logLevel < level {
		return false
	}
	switch level {
	case gormlogger.Info:
		return logger.Enabled(logger.INFO)
	case gormlogger.Warn:
		return logger.Enabled(logger.WARN)
	case gormlogger.Error:
		return logger.Enabled(logger.ERROR)
	default:
		return false
	}
}

func parseGormLogLevel(value string) (gormlogger.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "silent":
		return gormlogger.Silent, nil
	case "error":
		return gormlogger.Error, nil
	case "warn":
		return gormlogger.Warn, nil
	case "info":
		return gormlogger.Info, nil
	default:
		return defaultGormLogLevel, fmt.Errorf("invalid gorm log level %q", value)
	}
}
