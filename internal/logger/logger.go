package logger

import (
	"fmt"
	"log/slog"
	"os"
)

// Logger wraps slog with a chained scope so call sites read as
// logger.New("package").Function("DoThing"). Err both logs and returns the
// error so repositories and controllers can `return log.Err(...)` in one line.
type Logger struct {
	handler *slog.Logger
}

func New(scope string) Logger {
	return Logger{
		handler: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})).With("scope", scope),
	}
}

func (l Logger) Function(name string) Logger {
	return Logger{handler: l.handler.With("function", name)}
}

func (l Logger) File(name string) Logger {
	return Logger{handler: l.handler.With("file", name)}
}

func (l Logger) With(args ...any) Logger {
	return Logger{handler: l.handler.With(args...)}
}

func (l Logger) Debug(msg string, args ...any) {
	l.handler.Debug(msg, args...)
}

func (l Logger) Info(msg string, args ...any) {
	l.handler.Info(msg, args...)
}

func (l Logger) Warn(msg string, args ...any) {
	l.handler.Warn(msg, args...)
}

// Er logs an error without returning it, for fire-and-forget paths.
func (l Logger) Er(msg string, err error, args ...any) {
	l.handler.Error(msg, append([]any{"error", err}, args...)...)
}

// Err logs the error and returns it wrapped with the message.
func (l Logger) Err(msg string, err error, args ...any) error {
	l.handler.Error(msg, append([]any{"error", err}, args...)...)
	return fmt.Errorf("%s: %w", msg, err)
}

// Error logs and returns a new error built from the message alone.
func (l Logger) Error(msg string, args ...any) error {
	l.handler.Error(msg, args...)
	return fmt.Errorf("%s", msg)
}

// ErrMsg is shorthand for Error with no attributes.
func (l Logger) ErrMsg(msg string) error {
	l.handler.Error(msg)
	return fmt.Errorf("%s", msg)
}
