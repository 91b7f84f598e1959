package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pterm/pterm"
)

// DefaultLogger prints human readable lines through pterm and, when a
// structured sink is attached, mirrors every record to slog.
type DefaultLogger struct {
	level  LogLevel
	output io.Writer
	attrs  []any
	slog   *slog.Logger
}

func NewDefaultLogger(output io.Writer, level LogLevel) *DefaultLogger {
	return &DefaultLogger{
		level:  level,
		output: output,
	}
}

// WithStructuredSink attaches a slog text handler writing to w.
func (l *DefaultLogger) WithStructuredSink(w io.Writer) *DefaultLogger {
	l.slog = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: toSlogLevel(l.level),
	}))
	return l
}

func toSlogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelTrace, LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *DefaultLogger) format(msg string, args []any) string {
	all := append(append([]any{}, l.attrs...), args...)
	if len(all) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(all); i += 2 {
		if i+1 < len(all) {
			fmt.Fprintf(&b, " %v=%v", all[i], all[i+1])
		} else {
			fmt.Fprintf(&b, " %v", all[i])
		}
	}
	return b.String()
}

func (l *DefaultLogger) mirror(level slog.Level, msg string, args []any) {
	if l.slog == nil {
		return
	}
	all := append(append([]any{}, l.attrs...), args...)
	l.slog.Log(context.Background(), level, msg, all...)
}

func (l *DefaultLogger) Trace(msg string, args ...any) {
	if l.level <= LevelTrace {
		pterm.Debug.WithWriter(l.output).Println("TRACE: " + l.format(msg, args))
		l.mirror(slog.LevelDebug, msg, args)
	}
}

func (l *DefaultLogger) Debug(msg string, args ...any) {
	if l.level <= LevelDebug {
		pterm.Debug.WithWriter(l.output).Println(l.format(msg, args))
		l.mirror(slog.LevelDebug, msg, args)
	}
}

func (l *DefaultLogger) Info(msg string, args ...any) {
	if l.level <= LevelInfo {
		pterm.Info.WithWriter(l.output).Println(l.format(msg, args))
		l.mirror(slog.LevelInfo, msg, args)
	}
}

func (l *DefaultLogger) Warn(msg string, args ...any) {
	if l.level <= LevelWarn {
		pterm.Warning.WithWriter(l.output).Println(l.format(msg, args))
		l.mirror(slog.LevelWarn, msg, args)
	}
}

func (l *DefaultLogger) Error(msg string, args ...any) {
	if l.level <= LevelError {
		pterm.Error.WithWriter(l.output).Println(l.format(msg, args))
		l.mirror(slog.LevelError, msg, args)
	}
}

func (l *DefaultLogger) With(args ...any) Logger {
	return &DefaultLogger{
		level:  l.level,
		output: l.output,
		attrs:  append(append([]any{}, l.attrs...), args...),
		slog:   l.slog,
	}
}

func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.level = level
}
