// Package logging provides the default types.Logger implementation used
// when no front-end supplies its own, backed by logrus.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/meff-network/meff/internal/types"
)

// Default returns a logrus-backed logger writing to stderr in text
// format, with the given debug toggle.
func Default(debug bool) types.Logger {
	l := logrus.New()
	l.Out = os.Stderr
	if debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return &entryLogger{entry: logrus.NewEntry(l)}
}

// entryLogger adapts *logrus.Entry to types.Logger.
type entryLogger struct {
	entry *logrus.Entry
}

func (e *entryLogger) Debugf(format string, args ...interface{}) {
	e.entry.Debugf(format, args...)
}

func (e *entryLogger) Infof(format string, args ...interface{}) {
	e.entry.Infof(format, args...)
}

func (e *entryLogger) Warnf(format string, args ...interface{}) {
	e.entry.Warnf(format, args...)
}

func (e *entryLogger) Errorf(format string, args ...interface{}) {
	e.entry.Errorf(format, args...)
}

func (e *entryLogger) Fatalf(format string, args ...interface{}) {
	e.entry.Fatalf(format, args...)
}

func (e *entryLogger) WithField(key string, value interface{}) types.Logger {
	return &entryLogger{entry: e.entry.WithField(key, value)}
}
