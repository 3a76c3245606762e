// Package enginelog adapts github.com/sirupsen/logrus to the small
// structured-logging surface the engine core needs, so the rest of the
// module depends on the Logger interface rather than logrus directly.
package enginelog

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Fields is a structured logging attribute set, re-exported so callers
// outside this package never need to import logrus themselves.
type Fields = logrus.Fields

// Logger is the structured logger surface the engine core depends on.
type Logger interface {
	WithFields(Fields) Logger
	Debug(args...any)
	Info(args...any)
	Warn(args...any)
	Error(args...any)
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New builds a Logger backed by a fresh *logrus.Logger writing JSON
// lines to w at the given level.
func New(w io.Writer, level logrus.Level) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&logrus.JSONFormatter{})
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// Discard returns a Logger that drops everything, the default for a
// caller that never configured one.
func Discard() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) WithFields(f Fields) Logger {
	return &logrusLogger{entry: l.entry.WithFields(f)}
}

func (l *logrusLogger) Debug(args...any) { l.entry.Debug(args...) }
func (l *logrusLogger) Info(args...any) { l.entry.Info(args...) }
func (l *logrusLogger) Warn(args...any) { l.entry.Warn(args...) }
func (l *logrusLogger) Error(args...any) { l.entry.Error(args...) }
