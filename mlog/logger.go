package mlog

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

type Logger interface {
	Trace(v ...any)
	Debug(v ...any)
	Info(v ...any)
	Notice(v ...any)
	Warn(v ...any)
	Error(v ...any)
	Fatal(v ...any)

	Tracef(format string, v ...any)
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Noticef(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
	Fatalf(format string, v ...any)
}

type holder struct{ l Logger }

var logger atomic.Pointer[holder]

func SetLogger(l Logger) {
	logger.Store(&holder{l: l})
}

func load() Logger {
	h := logger.Load()
	if h == nil {
		return nil
	}
	return h.l
}

func UseDefaultLogger(ctx context.Context, wg *sync.WaitGroup, path string, logName string, level Level, stdOut bool) error {
	l, err := newFileLogger(path, logName, level, stdOut)
	if err != nil {
		return err
	}
	l.Start(ctx, wg)
	SetLogger(l)
	return nil
}

func UseStdLogger(level Level) error {
	l := newStdoutLogger(nil, level)
	SetLogger(l)
	return nil
}

// UseWriterLogger sends log lines to w, used by tests to capture output.
func UseWriterLogger(w io.Writer, level Level) {
	SetLogger(newStdoutLogger(w, level))
}

// IsLevelEnabled reports whether the current logger writes level.
func IsLevelEnabled(level Level) bool {
	l, ok := load().(interface{ IsLevelEnabled(Level) bool })
	return ok && l.IsLevelEnabled(level)
}

type Level uint32

const (
	FatalLevel Level = iota
	ErrorLevel
	WarnLevel
	NoticeLevel
	InfoLevel
	DebugLevel
	TraceLevel
)

// ParseLevel maps a level name to a Level, InfoLevel when unknown.
func ParseLevel(name string) Level {
	switch strings.ToLower(name) {
	case "fatal":
		return FatalLevel
	case "error":
		return ErrorLevel
	case "warn", "warning":
		return WarnLevel
	case "notice":
		return NoticeLevel
	case "debug":
		return DebugLevel
	case "trace":
		return TraceLevel
	}
	return InfoLevel
}

func Trace(a ...any) {
	l := load()
	if l == nil {
		return
	}
	l.Trace(a...)
}

func Tracef(format string, a ...any) {
	l := load()
	if l == nil {
		return
	}
	l.Tracef(format, a...)
}

func Debug(a ...any) {
	l := load()
	if l == nil {
		return
	}
	l.Debug(a...)
}

func Debugf(format string, a ...any) {
	l := load()
	if l == nil {
		return
	}
	l.Debugf(format, a...)
}

func Info(a ...any) {
	l := load()
	if l == nil {
		return
	}
	l.Info(a...)
}

func Infof(format string, a ...any) {
	l := load()
	if l == nil {
		return
	}
	l.Infof(format, a...)
}

func Notice(a ...any) {
	l := load()
	if l == nil {
		return
	}
	l.Notice(a...)
}

func Noticef(format string, a ...any) {
	l := load()
	if l == nil {
		return
	}
	l.Noticef(format, a...)
}

func Warn(a ...any) {
	l := load()
	if l == nil {
		return
	}
	l.Warn(a...)
}

func Warnf(format string, a ...any) {
	l := load()
	if l == nil {
		return
	}
	l.Warnf(format, a...)
}

func Error(a ...any) {
	l := load()
	if l == nil {
		return
	}
	l.Error(a...)
}

func Errorf(format string, a ...any) {
	l := load()
	if l == nil {
		return
	}
	l.Errorf(format, a...)
}

func Fatal(a ...any) {
	l := load()
	if l == nil {
		return
	}
	l.Fatal(a...)
}

func Fatalf(format string, a ...any) {
	l := load()
	if l == nil {
		return
	}
	l.Fatalf(format, a...)
}
