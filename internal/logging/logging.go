// Package logging provides structured JSON logging for turnstream components.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger emits structured events for one component.
type Logger struct {
	zl zerolog.Logger
}

// New creates a logger for a component, writing JSON to stderr.
func New(component string) *Logger {
	return NewWithWriter(component, os.Stderr)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(component string, w io.Writer) *Logger {
	zl := zerolog.New(w).With().
		Timestamp().
		Str("component", component).
		Logger()
	return &Logger{zl: zl}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a logger with an extra string field on every event.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

// Debug logs a debug event.
func (l *Logger) Debug(event string, extra map[string]any) {
	l.zl.Debug().Fields(extra).Msg(event)
}

// Info logs an info event.
func (l *Logger) Info(event string, extra map[string]any) {
	l.zl.Info().Fields(extra).Msg(event)
}

// Warn logs a warning event.
func (l *Logger) Warn(event string, extra map[string]any, err error) {
	l.zl.Warn().Fields(extra).Err(err).Msg(event)
}

// Error logs an error event.
func (l *Logger) Error(event string, extra map[string]any, err error) {
	l.zl.Error().Fields(extra).Err(err).Msg(event)
}

// TimedEvent logs an info event with the elapsed duration since start.
func (l *Logger) TimedEvent(event string, start time.Time, extra map[string]any) {
	l.zl.Info().Fields(extra).Int64("duration_ms", time.Since(start).Milliseconds()).Msg(event)
}
