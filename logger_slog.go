package mqttclient

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// SlogLogger adapts a slog.Handler to Logger.
type SlogLogger struct {
	logger *slog.Logger
	level  *atomic.Int32
}

// NewSlogLogger creates a Logger backed by handler. Entries below level are
// dropped before they reach the handler.
func NewSlogLogger(handler slog.Handler, level LogLevel) *SlogLogger {
	lv := new(atomic.Int32)
	lv.Store(int32(level))
	return &SlogLogger{logger: slog.New(handler), level: lv}
}

func (s *SlogLogger) Debug(msg string, fields LogFields) { s.log(LogLevelDebug, msg, fields) }
func (s *SlogLogger) Info(msg string, fields LogFields)  { s.log(LogLevelInfo, msg, fields) }
func (s *SlogLogger) Warn(msg string, fields LogFields)  { s.log(LogLevelWarn, msg, fields) }
func (s *SlogLogger) Error(msg string, fields LogFields) { s.log(LogLevelError, msg, fields) }

// WithFields returns a child logger sharing the handler and level.
func (s *SlogLogger) WithFields(fields LogFields) Logger {
	return &SlogLogger{logger: s.logger.With(slogArgs(fields)...), level: s.level}
}

func (s *SlogLogger) Level() LogLevel         { return LogLevel(s.level.Load()) }
func (s *SlogLogger) SetLevel(level LogLevel) { s.level.Store(int32(level)) }

func (s *SlogLogger) log(level LogLevel, msg string, fields LogFields) {
	if level < s.Level() {
		return
	}
	s.logger.Log(context.Background(), slogLevel(level), msg, slogArgs(fields)...)
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func slogArgs(fields LogFields) []any {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields))
	for k, v := range fields {
		args = append(args, slog.Any(k, v))
	}
	return args
}
