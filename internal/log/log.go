// Package log configures the process logger and hands out per-component
// entries.
package log

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Setup configures the standard logger. Unknown levels fall back to info.
func Setup(level string, json bool) {
	SetupWriter(os.Stderr, level, json)
}

func SetupWriter(w io.Writer, level string, json bool) {
	logrus.SetOutput(w)

	if json {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}

// For returns an entry tagged with component.
func For(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}
