package mlog

import (
	"fmt"
	"io"
	"log"
	"os"
)

// stdoutLogger writes synchronously through a *log.Logger. Used when no
// log path is configured and by tests.
type stdoutLogger struct {
	ll    *log.Logger
	level Level
}

// newStdoutLogger writes to w, or the standard logger when w is nil.
func newStdoutLogger(w io.Writer, level Level) *stdoutLogger {
	l := &stdoutLogger{level: level}
	if w != nil {
		l.ll = log.New(w, "", log.Ldate|log.Lmicroseconds)
	} else {
		log.SetFlags(log.Ldate | log.Lmicroseconds)
		l.ll = log.Default()
	}
	return l
}

func (l *stdoutLogger) IsLevelEnabled(level Level) bool {
	return l.level >= level
}

func (l *stdoutLogger) Logf(level Level, format string, args ...any) {
	if !l.IsLevelEnabled(level) {
		return
	}
	var msg string
	if format == "" {
		msg = fmt.Sprint(args...)
	} else {
		msg = fmt.Sprintf(format, args...)
	}
	l.ll.Println(getLevelTag(level) + msg)
}

func (l *stdoutLogger) Trace(args ...any) { l.Logf(TraceLevel, "", args...) }
func (l *stdoutLogger) Tracef(format string, args ...any) { l.Logf(TraceLevel, format, args...) }
func (l *stdoutLogger) Debug(args ...any) { l.Logf(DebugLevel, "", args...) }
func (l *stdoutLogger) Debugf(format string, args ...any) { l.Logf(DebugLevel, format, args...) }
func (l *stdoutLogger) Info(args ...any) { l.Logf(InfoLevel, "", args...) }
func (l *stdoutLogger) Infof(format string, args ...any) { l.Logf(InfoLevel, format, args...) }
func (l *stdoutLogger) Notice(args ...any) { l.Logf(NoticeLevel, "", args...) }
func (l *stdoutLogger) Noticef(format string, args ...any) { l.Logf(NoticeLevel, format, args...) }
func (l *stdoutLogger) Warn(args ...any) { l.Logf(WarnLevel, "", args...) }
func (l *stdoutLogger) Warnf(format string, args ...any) { l.Logf(WarnLevel, format, args...) }
func (l *stdoutLogger) Error(args ...any) { l.Logf(ErrorLevel, "", args...) }
func (l *stdoutLogger) Errorf(format string, args ...any) { l.Logf(ErrorLevel, format, args...) }

func (l *stdoutLogger) Fatal(args ...any) {
	l.Logf(FatalLevel, "", args...)
	os.Exit(1)
}

func (l *stdoutLogger) Fatalf(format string, args ...any) {
	l.Logf(FatalLevel, format, args...)
	os.Exit(1)
}
