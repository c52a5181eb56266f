package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// CodeKey is the attribute carrying the message code of a lifecycle record.
const CodeKey = "msg_code"

// Logger is the application logger interface.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format is the output format (json, text).
	Format string
	// Output is the output writer (defaults to os.Stderr).
	Output io.Writer
}

type slogLogger struct {
	logger *slog.Logger
}

// globalLevel holds the current log level. Every logger created by New
// shares it, so SetLevel applies to all of them.
var globalLevel = new(slog.LevelVar)

// New creates a new logger with the given configuration and sets the global
// level from it.
func New(cfg Config) (Logger, error) {
	globalLevel.Set(parseLevel(cfg.Level))

	opts := &slog.HandlerOptions{
		Level: globalLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			return redactSensitive(a)
		},
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		handler = slog.NewTextHandler(output, opts)
	case "", "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		return nil, fmt.Errorf("logger: unknown format %q", cfg.Format)
	}

	return &slogLogger{logger: slog.New(handler)}, nil
}

// SetLevel changes the global log level, e.g. after log.level changed in a
// restored server's configuration.
func SetLevel(level string) {
	globalLevel.Set(parseLevel(level))
}

func (l *slogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{logger: l.logger.With(args...)}
}

var discard = &slogLogger{
	logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1})),
}

// Discard returns a logger that drops every record. Its level is independent
// of the global level.
func Discard() Logger {
	return discard
}

// Lifecycle logs a lifecycle message whose text starts with its stable code.
// The code is also attached as CodeKey. Error-severity codes (suffix E) log
// at error, W at warn, everything else at info.
func Lifecycle(l Logger, code fmt.Stringer, args ...any) {
	msg := code.String()
	c := firstToken(msg)
	args = append([]any{CodeKey, c}, args...)
	switch {
	case strings.HasSuffix(c, "E"):
		l.Error(msg, args...)
	case strings.HasSuffix(c, "W"):
		l.Warn(msg, args...)
	default:
		l.Info(msg, args...)
	}
}

func firstToken(msg string) string {
	if i := strings.IndexAny(msg, ": "); i >= 0 {
		return msg[:i]
	}
	return msg
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
