package mlog

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// fileLogger buffers lines and writes them from a single goroutine.
// Rotation is handled by lumberjack.
type fileLogger struct {
	out    *lumberjack.Logger
	ll     *log.Logger
	buff   chan string
	level  Level
	stdOut bool
}

func newFileLogger(logpath, logName string, level Level, stdOut bool) (*fileLogger, error) {
	if len(logpath) == 0 {
		logpath = "."
	}
	if err := os.MkdirAll(logpath, 0755); err != nil {
		return nil, err
	}
	out := &lumberjack.Logger{
		Filename:   filepath.Join(logpath, genLogName(logName)),
		MaxSize:    100, // MB
		MaxBackups: 10,
		LocalTime:  true,
	}
	if stdOut {
		log.SetFlags(log.Ldate | log.Lmicroseconds)
	}
	return &fileLogger{
		out:    out,
		ll:     log.New(out, "", log.Ldate|log.Lmicroseconds),
		buff:   make(chan string, 0x10000),
		level:  level,
		stdOut: stdOut,
	}, nil
}

func (me *fileLogger) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("mlog recover error %v\n", r)
			}
			me.out.Close()
			wg.Done()
		}()

		for {
			select {
			case <-ctx.Done():
				// flush what is already buffered
				for {
					select {
					case str := <-me.buff:
						me.write(str)
					default:
						return
					}
				}
			case str := <-me.buff:
				me.write(str)
			}
		}
	}()
}

func (me *fileLogger) write(str string) {
	if me.stdOut {
		log.Println(str)
	}
	me.ll.Println(str)
}

func (me *fileLogger) Logf(level Level, format string, args ...any) {
	if !me.IsLevelEnabled(level) {
		return
	}
	if len(format) == 0 {
		me.buff <- getLevelTag(level) + fmt.Sprint(args...)
	} else {
		me.buff <- getLevelTag(level) + fmt.Sprintf(format, args...)
	}
}

func (me *fileLogger) IsLevelEnabled(level Level) bool {
	return me.level >= level
}

func (me *fileLogger) Trace(args ...any) { me.Logf(TraceLevel, "", args...) }
func (me *fileLogger) Tracef(format string, args ...any) { me.Logf(TraceLevel, format, args...) }
func (me *fileLogger) Debug(args ...any) { me.Logf(DebugLevel, "", args...) }
func (me *fileLogger) Debugf(format string, args ...any) { me.Logf(DebugLevel, format, args...) }
func (me *fileLogger) Info(args ...any) { me.Logf(InfoLevel, "", args...) }
func (me *fileLogger) Infof(format string, args ...any) { me.Logf(InfoLevel, format, args...) }
func (me *fileLogger) Notice(args ...any) { me.Logf(NoticeLevel, "", args...) }
func (me *fileLogger) Noticef(format string, args ...any) { me.Logf(NoticeLevel, format, args...) }
func (me *fileLogger) Warn(args ...any) { me.Logf(WarnLevel, "", args...) }
func (me *fileLogger) Warnf(format string, args ...any) { me.Logf(WarnLevel, format, args...) }
func (me *fileLogger) Error(args ...any) { me.Logf(ErrorLevel, "", args...) }
func (me *fileLogger) Errorf(format string, args ...any) { me.Logf(ErrorLevel, format, args...) }

func (me *fileLogger) Fatal(args ...any) {
	me.Logf(FatalLevel, "", args...)
	time.Sleep(time.Second)
	os.Exit(1)
}

func (me *fileLogger) Fatalf(format string, args ...any) {
	me.Logf(FatalLevel, format, args...)
	time.Sleep(time.Second)
	os.Exit(1)
}

func getLevelTag(level Level) string {
	switch level {
	case FatalLevel:
		return "[fatal] "
	case ErrorLevel:
		return "[error] "
	case WarnLevel:
		return "[warn] "
	case NoticeLevel:
		return "[notice] "
	case InfoLevel:
		return "[info] "
	case DebugLevel:
		return "[debug] "
	case TraceLevel:
		return "[trace] "
	}
	return ""
}

func genLogName(logName string) string {
	if logName == "" {
		logName = "plua"
	}
	return logName + ".log"
}
