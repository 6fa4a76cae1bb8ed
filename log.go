package bthost

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the logging surface used by every subsystem. The default is a
// logrus text logger to stderr; applications can install their own.
type Logger interface {
	Info(...interface{})
	Debug(...interface{})
	Error(...interface{})
	Warn(...interface{})

	Infof(string, ...interface{})
	Debugf(string, ...interface{})
	Errorf(string, ...interface{})
	Warnf(string, ...interface{})

	ChildLogger(tags map[string]interface{}) Logger
}

var logger Logger
var loggerMu sync.Mutex

// SetLogger installs a custom logger for the whole stack.
func SetLogger(l Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}

// GetLogger returns the active logger, building the default on first use.
func GetLogger() Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if logger == nil {
		logger = buildDefaultLogger(logrus.InfoLevel)
	}
	return logger
}

// SetLogLevel adjusts the level of the default logger ("debug", "trace",
// "info", ...). A no-op with a complaint when a custom logger is installed.
func SetLogLevel(level string) {
	l := GetLogger()
	lg, ok := l.(*defaultLogger)
	if !ok {
		l.Warn("non-default logger, can't set level")
		return
	}
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		l.Warnf("unknown log level %q", level)
		return
	}
	lg.Entry.Logger.SetLevel(lv)
}

type defaultLogger struct {
	*logrus.Entry
}

func buildDefaultLogger(level logrus.Level) Logger {
	l := &logrus.Logger{
		Formatter: &logrus.TextFormatter{DisableTimestamp: true},
		Level:     level,
		Out:       os.Stderr,
		Hooks:     make(logrus.LevelHooks),
	}
	return &defaultLogger{Entry: l.WithFields(map[string]interface{}{})}
}

func (d *defaultLogger) ChildLogger(tags map[string]interface{}) Logger {
	return &defaultLogger{d.Entry.WithFields(tags)}
}
