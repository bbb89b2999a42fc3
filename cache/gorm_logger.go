package cache

import (
	"context"
	"fmt"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"fetchoraw/logger"
)

// GormLogger routes gorm messages into our logger. SQL goes to debug.
type GormLogger struct {
	logger.Logger
	LogLevel gormlogger.LogLevel
}

func NewGormLogger(l logger.Logger) *GormLogger {
	return &GormLogger{Logger: l, LogLevel: gormlogger.Warn}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	n := *l
	n.LogLevel = level
	return &n
}

func (l *GormLogger) Info(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Info {
		l.Logger.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Warn {
		l.Logger.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Error(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Error {
		l.Logger.Error(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []any{"sql", sql, "rows", rows, "timeMs", float64(elapsed.Nanoseconds()) / 1e6}

	switch {
	case err != nil && l.LogLevel >= gormlogger.Error:
		l.Logger.Error("sql error", append(fields, "error", err.Error())...)
	case elapsed > time.Second && l.LogLevel >= gormlogger.Warn:
		l.Logger.Warn("slow sql", append(fields, "threshold", "1s")...)
	case l.LogLevel == gormlogger.Info:
		l.Logger.Debug("sql", fields...)
	}
}
