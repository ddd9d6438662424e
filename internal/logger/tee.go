package logger

import (
	"context"
	"log/slog"

	"github.com/tphakala/twsaudio/internal/errors"
)

// teeHandler sends every record to each of its handlers, typically the
// console and the JSON log file
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

//nolint:gocritic // slog.Handler passes records by value
func (t teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range t {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t teeHandler) each(fn func(slog.Handler) slog.Handler) teeHandler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = fn(h)
	}
	return out
}
