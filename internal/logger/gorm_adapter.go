package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// GormLoggerAdapter adapts Logger to GORM's logger.Interface for the
// persisted-state store. Statements log at TRACE, so they only show when
// the persist module runs at "trace".
type GormLoggerAdapter struct {
	logger        Logger
	slowThreshold time.Duration
}

// NewGormLoggerAdapter creates a GORM logger adapter. Statements slower than
// slowThreshold log at WARN; 0 disables the check.
func NewGormLoggerAdapter(logger Logger, slowThreshold time.Duration) *GormLoggerAdapter {
	if logger == nil {
		logger = NewSlogLogger(nil, LogLevelInfo, nil)
	}
	return &GormLoggerAdapter{
		logger:        logger,
		slowThreshold: slowThreshold,
	}
}

// LogMode returns the adapter itself; levels come from the central logger.
func (a *GormLoggerAdapter) LogMode(_ gorm_logger.LogLevel) gorm_logger.Interface {
	return a
}

// Info maps GORM's chatty info level to DEBUG.
func (a *GormLoggerAdapter) Info(_ context.Context, msg string, data ...any) {
	a.logger.Debug(fmt.Sprintf(msg, data...))
}

func (a *GormLoggerAdapter) Warn(_ context.Context, msg string, data ...any) {
	a.logger.Warn(fmt.Sprintf(msg, data...))
}

func (a *GormLoggerAdapter) Error(_ context.Context, msg string, data ...any) {
	a.logger.Error(fmt.Sprintf(msg, data...))
}

// Trace logs each statement. Failures other than ErrRecordNotFound and slow
// statements log at WARN.
func (a *GormLoggerAdapter) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		a.logger.Warn("persist statement failed",
			String("sql", sql),
			Int64("rows_affected", rows),
			Duration("elapsed", elapsed),
			Error(err))

	case a.slowThreshold > 0 && elapsed > a.slowThreshold:
		a.logger.Warn("slow persist statement",
			String("sql", sql),
			Int64("rows_affected", rows),
			Duration("elapsed", elapsed),
			Duration("threshold", a.slowThreshold))

	default:
		a.logger.Trace("persist statement",
			String("sql", sql),
			Int64("rows_affected", rows),
			Duration("elapsed", elapsed))
	}
}
