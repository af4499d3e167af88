package log

import "testing"

func TestNilLoggerMethodsAreNoOps(t *testing.T) {
	var l *Logger
	l.Debug("msg")
	l.Info("msg")
	l.Warn("msg")
	l.Error("msg")
	if l.With("k", "v") != l {
		t.Fatal("With on a nil Logger should return the same nil Logger")
	}
}

func TestDiscardReturnsNilLogger(t *testing.T) {
	if Discard() != nil {
		t.Fatal("Discard should return a nil *Logger")
	}
}

func TestDefaultWrapsHandlerAndLogs(t *testing.T) {
	l := Default()
	if l == nil {
		t.Fatal("Default should return a non-nil Logger")
	}
	with := l.With("component", "test")
	if with == nil {
		t.Fatal("With on a non-nil Logger should return a non-nil Logger")
	}
	with.Info("hello")
}
