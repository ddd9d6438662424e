package logger

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// newTextHandler builds the human-readable console handler. The time
// attribute is dropped and the custom trace level renders as TRACE.
func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	if tz == nil {
		tz = time.Local
	}
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.Attr{}
			case slog.LevelKey:
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= traceLevelValue {
					return slog.String(slog.LevelKey, "TRACE")
				}
			}
			if t, ok := a.Value.Any().(time.Time); ok {
				return slog.Time(a.Key, t.In(tz))
			}
			return a
		},
	})
}

// NewSlogLogger returns a Logger writing text to w at the given level.
// A nil writer logs to stdout.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if w == nil {
		w = os.Stdout
	}
	slogLevel := parseSlogLevel(level)
	return &moduleLogger{
		logger:   slog.New(newTextHandler(w, slogLevel, tz)),
		level:    slogLevel,
		timezone: tz,
	}
}

// NewDiscardLogger returns a Logger that drops everything
func NewDiscardLogger() Logger {
	return &moduleLogger{
		logger: slog.New(slog.DiscardHandler),
		level:  slog.LevelError + 1,
	}
}
