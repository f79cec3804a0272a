package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger = newLogger(os.Stdout, "info", "json")

func newLogger(out io.Writer, level string, format string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)
	return l
}

// Configure replaces the process logger. It is called once from main before
// any component starts logging.
func Configure(out io.Writer, level string, format string) {
	logger = newLogger(out, level, format)
}

func Logger() *logrus.Logger {
	return logger
}

// For returns an entry tagged with the component name, e.g. For("service").
func For(module string) *logrus.Entry {
	return logger.WithField("module", module)
}

func LogError(module string, funcName string, context string, data any, err error) {
	fields := logrus.Fields{
		"module":   module,
		"funcName": funcName,
		"context":  context,
	}
	if data != nil {
		fields["data"] = data
	}
	logger.WithFields(fields).Error(err.Error())
}
