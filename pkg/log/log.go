// Package log provides a minimal structured-logging shim used by the
// connector, the dispatcher, and the root client for connection-lifecycle
// and redirect diagnostics.
package log

import (
	"context"
	"log/slog"
)

// Logger is the subset of slog's API the client needs. A nil *Logger is
// valid and logs nothing, matching the graceful-degradation style used
// elsewhere in this module (e.g. http2.NewTransport falling back to
// defaults on invalid options instead of panicking).
type Logger struct {
	h *slog.Logger
}

// New wraps an existing *slog.Logger.
func New(h *slog.Logger) *Logger {
	return &Logger{h: h}
}

// Default returns a Logger writing to slog's default handler.
func Default() *Logger {
	return &Logger{h: slog.Default()}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return nil
}

func (l *Logger) Debug(msg string, args ...any) {
	if l == nil || l.h == nil {
		return
	}
	l.h.Debug(msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	if l == nil || l.h == nil {
		return
	}
	l.h.Info(msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	if l == nil || l.h == nil {
		return
	}
	l.h.Warn(msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	if l == nil || l.h == nil {
		return
	}
	l.h.Error(msg, args...)
}

// With returns a Logger with the given key-value pairs attached to every
// subsequent record.
func (l *Logger) With(args ...any) *Logger {
	if l == nil || l.h == nil {
		return l
	}
	return &Logger{h: l.h.With(args...)}
}

// Ctx returns l unchanged and ignores ctx. It is a hook for handlers that
// enrich records from a context (e.g. a request ID); nothing in this
// module calls it.
func Ctx(_ context.Context, l *Logger) *Logger {
	return l
}
