package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger
var switchLogger *logrus.Logger

func init() {
	logger = newLogger(logrus.FieldMap{})
	switchLogger = newLogger(logrus.FieldMap{
		logrus.FieldKeyTime:  "time",
		logrus.FieldKeyLevel: "level",
		logrus.FieldKeyMsg:   "qsw_msg",
	})
}

func newLogger(fields logrus.FieldMap) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		FieldMap:      fields,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

func GetLogger() *logrus.Logger {
	return logger
}

// GetSwitchLogger returns the logger used by the allocator, lifecycle and directory.
func GetSwitchLogger() *logrus.Logger {
	return switchLogger
}

func SetLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(logLevel)
	return nil
}

func SetSwitchLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	switchLogger.SetLevel(logLevel)
	return nil
}

// Configure sets both levels. override, when non-empty, wins over both.
func Configure(level, switchLevel, override string) error {
	if override != "" {
		level, switchLevel = override, override
	}
	if err := SetLogLevel(level); err != nil {
		return err
	}
	return SetSwitchLogLevel(switchLevel)
}

// SetOutput redirects both loggers.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
	switchLogger.SetOutput(w)
}

// OrDefault returns l, or the switch logger when l is nil.
func OrDefault(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return switchLogger
	}
	return l
}
