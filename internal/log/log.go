// Package log provides the minimal leveled logger used by the rdb and
// client layers. It wraps the standard library log.Logger by default;
// callers may supply their own implementation of the Base interface.
package log

import (
	"fmt"
	"log"
	"os"
	"sync"
)

// Level controls which messages a Logger emits.
type Level int32

const (
	DebugLevel Level = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// Base is the logging interface a caller can provide to redirect output.
type Base interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
}

// Logger adds level filtering on top of a Base implementation.
type Logger struct {
	mu    sync.Mutex
	base  Base
	level Level
}

// NewLogger returns a Logger. If base is nil, a stdlib-backed default is used.
func NewLogger(base Base) *Logger {
	if base == nil {
		base = newStdLogger()
	}
	return &Logger{base: base, level: InfoLevel}
}

// SetLevel changes the minimum level that will be forwarded to the base logger.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) shouldLog(level Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.level
}

func (l *Logger) Debug(args ...interface{}) {
	if l.shouldLog(DebugLevel) {
		l.base.Debug(args...)
	}
}

func (l *Logger) Info(args ...interface{}) {
	if l.shouldLog(InfoLevel) {
		l.base.Info(args...)
	}
}

func (l *Logger) Warn(args ...interface{}) {
	if l.shouldLog(WarnLevel) {
		l.base.Warn(args...)
	}
}

func (l *Logger) Error(args ...interface{}) {
	if l.shouldLog(ErrorLevel) {
		l.base.Error(args...)
	}
}

func (l *Logger) Fatal(args ...interface{}) {
	if l.shouldLog(FatalLevel) {
		l.base.Fatal(args...)
	}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.Debug(fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...interface{})  { l.Info(fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.Warn(fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.Error(fmt.Sprintf(format, args...)) }

// stdLogger is the default Base: it prefixes messages with a level tag and
// writes to stderr via the standard library logger.
type stdLogger struct {
	*log.Logger
}

func newStdLogger() *stdLogger {
	return &stdLogger{Logger: log.New(os.Stderr, "bullmq: ", log.Ldate|log.Ltime|log.Lmicroseconds)}
}

func (l *stdLogger) Debug(args ...interface{}) { l.Logger.Print(append([]interface{}{"DEBUG: "}, args...)...) }
func (l *stdLogger) Info(args ...interface{})  { l.Logger.Print(append([]interface{}{"INFO: "}, args...)...) }
func (l *stdLogger) Warn(args ...interface{})  { l.Logger.Print(append([]interface{}{"WARN: "}, args...)...) }
func (l *stdLogger) Error(args ...interface{}) { l.Logger.Print(append([]interface{}{"ERROR: "}, args...)...) }
func (l *stdLogger) Fatal(args ...interface{}) { l.Logger.Fatal(args...) }
