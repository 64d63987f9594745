//go:build !tinygo

package sonar

import (
	"github.com/sirupsen/logrus"
)

func init() {
	globalLogger = NewLogrusLogger(logrus.StandardLogger())
}

// logrusLogger adapts a logrus entry to the Logger interface.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger returns a Logger writing through l, tagged with the package
// name so ranger output can be told apart from the caller's.
func NewLogrusLogger(l *logrus.Logger) Logger {
	return &logrusLogger{entry: l.WithField("pkg", "sonar")}
}

// SetLogLevel parses level ("debug", "info", "warn", ...) and applies it to the
// standard logrus logger used by the default Logger.
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	return nil
}

func (l *logrusLogger) Debug(msg string) { l.entry.Debug(msg) }
func (l *logrusLogger) Info(msg string)  { l.entry.Info(msg) }
func (l *logrusLogger) Warn(msg string)  { l.entry.Warn(msg) }
func (l *logrusLogger) Error(msg string) { l.entry.Error(msg) }
