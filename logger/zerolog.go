package logger

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to the Logger interface, for users
// who already run zerolog elsewhere in their tooling.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerolog creates a zerolog-backed Logger writing console output to stderr.
func NewZerolog(level Level) Logger {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(toZerologLevel(level)).
		With().Timestamp().Logger()

	return &ZerologLogger{logger: zl}
}

func (l *ZerologLogger) Debug(msg string, keysAndValues ...any) {
	l.emit(l.logger.Debug(), msg, keysAndValues)
}

func (l *ZerologLogger) Info(msg string, keysAndValues ...any) {
	l.emit(l.logger.Info(), msg, keysAndValues)
}

func (l *ZerologLogger) Warn(msg string, keysAndValues ...any) {
	l.emit(l.logger.Warn(), msg, keysAndValues)
}

func (l *ZerologLogger) Error(msg string, keysAndValues ...any) {
	l.emit(l.logger.Error(), msg, keysAndValues)
}

func (l *ZerologLogger) Fatal(msg string, keysAndValues ...any) {
	l.emit(l.logger.Fatal(), msg, keysAndValues)
}

func (l *ZerologLogger) With(keyValues ...any) Logger {
	ctx := l.logger.With()
	for i := 0; i+1 < len(keyValues); i += 2 {
		ctx = ctx.Interface(keyString(keyValues[i]), keyValues[i+1])
	}

	return &ZerologLogger{logger: ctx.Logger()}
}

func (l *ZerologLogger) Level() Level {
	switch l.logger.GetLevel() {
	case zerolog.DebugLevel:
		return DebugLevel
	case zerolog.InfoLevel:
		return InfoLevel
	case zerolog.WarnLevel:
		return WarnLevel
	case zerolog.FatalLevel:
		return FatalLevel
	default:
		return ErrorLevel
	}
}

func (l *ZerologLogger) SetLevel(level Level) {
	l.logger = l.logger.Level(toZerologLevel(level))
}

// emit attaches slog-style key-value pairs to a zerolog event.
// A trailing key without a value is dropped.
func (l *ZerologLogger) emit(ev *zerolog.Event, msg string, keyValues []any) {
	for i := 0; i+1 < len(keyValues); i += 2 {
		ev = ev.Interface(keyString(keyValues[i]), keyValues[i+1])
	}
	ev.Msg(msg)
}

func keyString(k any) string {
	if s, ok := k.(string); ok {
		return s
	}

	return fmt.Sprintf("%v", k)
}

func toZerologLevel(level Level) zerolog.Level {
	switch level {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case FatalLevel:
		return zerolog.FatalLevel
	default:
		return zerolog.ErrorLevel
	}
}
