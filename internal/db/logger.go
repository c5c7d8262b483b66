package db

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// gormLogrus forwards gorm's query logging to logrus.
type gormLogrus struct {
	slow  time.Duration
	level gormlogger.LogLevel
}

// NewLogger returns a gorm logger that reports slow queries and errors through logrus.
func NewLogger(slow time.Duration) gormlogger.Interface {
	return &gormLogrus{slow: slow, level: gormlogger.Warn}
}

func (l *gormLogrus) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *gormLogrus) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Info {
		log.WithContext(ctx).Infof(msg, args...)
	}
}

func (l *gormLogrus) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Warn {
		log.WithContext(ctx).Warnf(msg, args...)
	}
}

func (l *gormLogrus) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Error {
		log.WithContext(ctx).Errorf(msg, args...)
	}
}

func (l *gormLogrus) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		log.WithContext(ctx).WithError(err).WithFields(log.Fields{
			"elapsed": elapsed.String(),
			"rows":    rows,
		}).Debugf("db: query failed: %s", sql)
	case l.slow > 0 && elapsed > l.slow && l.level >= gormlogger.Warn:
		sql, rows := fc()
		log.WithContext(ctx).WithFields(log.Fields{
			"elapsed": elapsed.String(),
			"rows":    rows,
		}).Warnf("db: slow query: %s", sql)
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		log.WithContext(ctx).WithField("rows", rows).Debugf("db: %s", sql)
	}
}
