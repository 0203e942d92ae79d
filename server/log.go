package server

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger mirrors the teacher's s.Noticef/s.Warnf/s.Errorf leveled call
// shape over zerolog's structured output.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger builds a Logger writing to w (os.Stderr if nil).
func NewLogger(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

func (l *Logger) Noticef(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

func (l *Logger) Tracef(format string, args ...interface{}) {
	l.zl.Trace().Msgf(format, args...)
}

// WithConn returns a Logger whose every line carries the given
// connection correlation ID, matching the per-connection "cid" field
// NATS attaches to its own client log lines.
func (l *Logger) WithConn(connID string) *Logger {
	return &Logger{zl: l.zl.With().Str("conn", connID).Logger()}
}
