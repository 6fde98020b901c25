package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a LOG_LEVEL value to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

type Logger struct {
	level       Level
	debugLogger *log.Logger
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
}

// New returns a logger writing every level to w. Messages below level are discarded.
func New(w io.Writer, level Level) *Logger {
	flags := log.Ldate | log.Ltime | log.Lshortfile
	return &Logger{
		level:       level,
		debugLogger: log.New(w, "DEBUG: ", flags),
		infoLogger:  log.New(w, "INFO: ", flags),
		warnLogger:  log.New(w, "WARN: ", flags),
		errorLogger: log.New(w, "ERROR: ", flags),
	}
}

func newStd() *Logger {
	l := New(os.Stdout, LevelInfo)
	l.warnLogger.SetOutput(os.Stderr)
	l.errorLogger.SetOutput(os.Stderr)
	return l
}

func (l *Logger) SetLevel(level Level) {
	l.level = level
}

// calldepth 3 points Lshortfile at the caller of the package-level helpers.
func (l *Logger) output(target *log.Logger, level Level, format string, v ...interface{}) {
	if level < l.level {
		return
	}
	target.Output(3, fmt.Sprintf(format, v...))
}

func (l *Logger) Debug(format string, v ...interface{}) {
	l.output(l.debugLogger, LevelDebug, format, v...)
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.output(l.infoLogger, LevelInfo, format, v...)
}

func (l *Logger) Warn(format string, v ...interface{}) {
	l.output(l.warnLogger, LevelWarn, format, v...)
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.output(l.errorLogger, LevelError, format, v...)
}

func (l *Logger) Fatal(format string, v ...interface{}) {
	l.errorLogger.Output(2, fmt.Sprintf(format, v...))
	os.Exit(1)
}

// Global logger instance
var GlobalLogger = newStd()

// Convenience functions
func Debug(format string, v ...interface{}) {
	GlobalLogger.output(GlobalLogger.debugLogger, LevelDebug, format, v...)
}

func Info(format string, v ...interface{}) {
	GlobalLogger.output(GlobalLogger.infoLogger, LevelInfo, format, v...)
}

func Warn(format string, v ...interface{}) {
	GlobalLogger.output(GlobalLogger.warnLogger, LevelWarn, format, v...)
}

func Error(format string, v ...interface{}) {
	GlobalLogger.output(GlobalLogger.errorLogger, LevelError, format, v...)
}

func Fatal(format string, v ...interface{}) {
	GlobalLogger.Fatal(format, v...)
}
