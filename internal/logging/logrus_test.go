package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func newTestLogrusLogger(buf *bytes.Buffer) *LogrusLogger {
	base := logrus.New()
	base.SetOutput(buf)
	base.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return NewLogrusLogger(base)
}

func TestLogrusLoggerDebugGatedByToggle(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogrusLogger(&buf)

	l.Debug("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected no output before ToggleDebug(true), got %q", buf.String())
	}

	l.ToggleDebug(true)
	l.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Fatalf("expected debug output after toggle, got %q", buf.String())
	}
}

func TestLogrusLoggerImplementsInterface(t *testing.T) {
	var _ Logger = NewLogrusLogger(nil)
}

func TestNewLogrusLoggerDefaultsWhenNil(t *testing.T) {
	l := NewLogrusLogger(nil)
	if l.entry == nil {
		t.Fatal("expected a default *logrus.Logger when nil is passed")
	}
}
