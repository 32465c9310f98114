// Package logging defines the Logger interface used throughout the
// control plane and its default, dependency-free implementation.
// Adapted from the teacher's definition.Logger/DefaultLogger: same
// method set, same calldepth-aware stdlib-backed default, so call
// sites never need to know which backend is wired in.
package logging

import (
	"fmt"
	"log"
	"os"
)

const (
	calldepth = 3
	lvlInfo   = "INFO"
	lvlWarn   = "WARN"
	lvlError  = "ERROR"
	lvlDebug  = "DEBUG"
	lvlFatal  = "FATAL"
)

// Logger is implemented by every logging backend the control plane can
// use. The manager, peer client, control client and status monitor all
// depend on this interface, never on a concrete package.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	ToggleDebug(value bool) bool
}

func level(prefix, message string) string {
	return fmt.Sprintf("[%s]: %s", prefix, message)
}

// DefaultLogger wraps the standard library's log.Logger, used when no
// other backend is configured (e.g. collectmgr's -structured flag is
// absent and nothing has wired logging.NewLogrusLogger).
type DefaultLogger struct {
	*log.Logger
	debug bool
}

// NewDefaultLogger creates a DefaultLogger writing to stderr.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{
		Logger: log.New(os.Stderr, "collectmgr ", log.LstdFlags),
		debug:  false,
	}
}

func (l *DefaultLogger) Info(v ...interface{}) {
	l.Output(calldepth, level(lvlInfo, fmt.Sprint(v...)))
}

func (l *DefaultLogger) Infof(format string, v ...interface{}) {
	l.Output(calldepth, level(lvlInfo, fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Warn(v ...interface{}) {
	l.Output(calldepth, level(lvlWarn, fmt.Sprint(v...)))
}

func (l *DefaultLogger) Warnf(format string, v ...interface{}) {
	l.Output(calldepth, level(lvlWarn, fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Error(v ...interface{}) {
	l.Output(calldepth, level(lvlError, fmt.Sprint(v...)))
}

func (l *DefaultLogger) Errorf(format string, v ...interface{}) {
	l.Output(calldepth, level(lvlError, fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Debug(v ...interface{}) {
	if l.debug {
		l.Output(calldepth, level(lvlDebug, fmt.Sprint(v...)))
	}
}

func (l *DefaultLogger) Debugf(format string, v ...interface{}) {
	if l.debug {
		l.Output(calldepth, level(lvlDebug, fmt.Sprintf(format, v...)))
	}
}

func (l *DefaultLogger) Fatal(v ...interface{}) {
	l.Output(calldepth, level(lvlFatal, fmt.Sprint(v...)))
	os.Exit(1)
}

func (l *DefaultLogger) Fatalf(format string, v ...interface{}) {
	l.Output(calldepth, level(lvlFatal, fmt.Sprintf(format, v...)))
	os.Exit(1)
}

// ToggleDebug turns debug-level logging on or off, returning the new value.
func (l *DefaultLogger) ToggleDebug(value bool) bool {
	l.debug = value
	return l.debug
}
