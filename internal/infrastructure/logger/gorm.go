package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultMaxSQLLength caps logged statements. Staged batch inserts carry
// thousands of bind values and would otherwise flood the log.
const DefaultMaxSQLLength = 2048

// GormConfig tunes the gorm adapter
type GormConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
	MaxSQLLength  int
}

// GormLogger routes gorm statements to zap. Statements run by the stager
// and the publisher carry the request, batch and trace ids of their context.
type GormLogger struct {
	logger *zap.Logger
	cfg    GormConfig
}

// NewGormLogger creates the adapter. A zero MaxSQLLength means DefaultMaxSQLLength.
func NewGormLogger(zapLogger *zap.Logger, cfg GormConfig) *GormLogger {
	if cfg.MaxSQLLength <= 0 {
		cfg.MaxSQLLength = DefaultMaxSQLLength
	}
	return &GormLogger{logger: zapLogger.Named("gorm"), cfg: cfg}
}

// LogMode implements gormlogger.Interface
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.cfg.Level = level
	return &cp
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.cfg.Level >= gormlogger.Info {
		For(ctx, l.logger).Sugar().Infof(msg, data...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.cfg.Level >= gormlogger.Warn {
		For(ctx, l.logger).Sugar().Warnf(msg, data...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.cfg.Level >= gormlogger.Error {
		For(ctx, l.logger).Sugar().Errorf(msg, data...)
	}
}

// Trace logs one executed statement. Missing rows are expected by the job
// status lookups and are never reported.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	level := l.cfg.Level
	if level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	slow := l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold

	var msg string
	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound) && level >= gormlogger.Error:
		msg = "SQL failed"
	case slow && level >= gormlogger.Warn:
		msg = "Slow SQL"
	case level >= gormlogger.Info:
		msg = "SQL"
	default:
		return
	}

	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", truncateSQL(sql, l.cfg.MaxSQLLength)),
	}
	log := For(ctx, l.logger)
	switch msg {
	case "SQL failed":
		log.Error(msg, append(fields, zap.Error(err))...)
	case "Slow SQL":
		log.Warn(msg, append(fields, zap.Duration("threshold", l.cfg.SlowThreshold))...)
	default:
		log.Debug(msg, fields...)
	}
}

func truncateSQL(sql string, limit int) string {
	if len(sql) <= limit {
		return sql
	}
	cut := limit
	// keep the cut on a rune boundary
	for cut > 0 && !utf8RuneStart(sql[cut]) {
		cut--
	}
	return sql[:cut] + "...(truncated)"
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

// MapGormLogLevel maps the database.log_level setting to a gorm level
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	}
	return gormlogger.Warn
}
