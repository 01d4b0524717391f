// Package logger builds the process slog.Logger from the logging config.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ComponentKey is the attribute naming the subsystem that emitted a record.
const ComponentKey = "component"

// New returns a logger writing to stderr. Level is one of debug, info,
// warn or error; format is json or text.
func New(level, format string) *slog.Logger {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter returns a logger writing to w. Debug loggers include the
// source location. Timestamps are written in UTC.
func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   lvl == slog.LevelDebug,
		ReplaceAttr: utcTime,
	}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel converts a level name to slog.Level, ignoring case and
// surrounding space. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component returns l tagged with the subsystem name.
func Component(l *slog.Logger, name string) *slog.Logger {
	return l.With(ComponentKey, name)
}

// Printf adapts l to printf-style logger interfaces such as resty's.
// Trailing newlines are trimmed from messages.
type Printf struct {
	l *slog.Logger
}

// NewPrintf wraps l.
func NewPrintf(l *slog.Logger) Printf {
	return Printf{l: l}
}

// Errorf logs at error level.
func (p Printf) Errorf(format string, v ...any) { p.log(slog.LevelError, format, v...) }

// Warnf logs at warn level.
func (p Printf) Warnf(format string, v ...any) { p.log(slog.LevelWarn, format, v...) }

// Debugf logs at debug level.
func (p Printf) Debugf(format string, v ...any) { p.log(slog.LevelDebug, format, v...) }

func (p Printf) log(level slog.Level, format string, v ...any) {
	ctx := context.Background()
	if !p.l.Enabled(ctx, level) {
		return
	}
	p.l.Log(ctx, level, strings.TrimRight(fmt.Sprintf(format, v...), "\n"))
}

func utcTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		a.Value = slog.TimeValue(a.Value.Time().In(time.UTC))
	}
	return a
}
