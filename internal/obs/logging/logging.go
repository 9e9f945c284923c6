// Package logging provides the engine's structured logger: a package-level
// singleton configured once through Init (cmd/mediactl passes its flag
// values), writing text lines to stdout, a dated log file, or both.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level, defaulting to Info.
func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return Debug
	case "INFO":
		return Info
	case "WARN", "WARNING":
		return Warn
	case "ERROR":
		return Error
	case "FATAL":
		return Fatal
	default:
		return Info
	}
}

// Options configures a Logger.
type Options struct {
	Level  string // "debug".."fatal"
	Output string // "stdout", "file", or "both"
	LogDir string // used when Output is "file" or "both"
}

// Logger writes leveled, optionally fielded log lines.
type Logger struct {
	level      Level
	output     string
	logDir     string
	mu         sync.RWMutex
	currentLog *os.File
	started    time.Time
}

var (
	global     *Logger
	globalOnce sync.Once
)

// Init initializes the package-level logger. Subsequent calls are no-ops;
// use a fresh *Logger via New for tests that need independent instances.
func Init(opts Options) error {
	var err error
	globalOnce.Do(func() {
		global, err = New(opts)
	})
	return err
}

// get returns the global logger, falling back to a stdout-only logger if
// Init was never called.
func get() *Logger {
	if global == nil {
		l, _ := New(Options{Level: "info", Output: "stdout"})
		return l
	}
	return global
}

// New constructs an independent Logger instance.
func New(opts Options) (*Logger, error) {
	l := &Logger{
		level:   ParseLevel(opts.Level),
		output:  opts.Output,
		logDir:  opts.LogDir,
		started: time.Now(),
	}
	if l.output == "" {
		l.output = "stdout"
	}
	if err := l.setupOutput(); err != nil {
		return nil, fmt.Errorf("setup logger output: %w", err)
	}
	return l, nil
}

func (l *Logger) setupOutput() error {
	if l.output == "stdout" {
		return nil
	}
	if l.output == "file" || l.output == "both" {
		return l.createLogFile()
	}
	return nil
}

func (l *Logger) createLogFile() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	dateDir := l.started.Format("2006-01-02")
	timeFile := l.started.Format("15-04-05") + ".log"

	fullDir := filepath.Join(l.logDir, dateDir)
	if err := os.MkdirAll(fullDir, 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	logPath := filepath.Join(fullDir, timeFile)
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("create log file: %w", err)
	}

	if l.currentLog != nil {
		l.currentLog.Close()
	}
	l.currentLog = file
	return nil
}

func (l *Logger) shouldLog(level Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

func (l *Logger) writer() io.Writer {
	l.mu.RLock()
	defer l.mu.RUnlock()

	switch l.output {
	case "file":
		if l.currentLog != nil {
			return l.currentLog
		}
		return os.Stdout
	case "both":
		if l.currentLog != nil {
			return io.MultiWriter(os.Stdout, l.currentLog)
		}
		return os.Stdout
	default:
		return os.Stdout
	}
}

func (l *Logger) format(level Level, msg string, fields map[string]interface{}) string {
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	out := fmt.Sprintf("%s [%s] %s", ts, level, msg)
	for k, v := range fields {
		out += fmt.Sprintf(" %s=%v", k, v)
	}
	return out
}

func (l *Logger) log(level Level, msg string, fields map[string]interface{}) {
	if !l.shouldLog(level) {
		return
	}
	fmt.Fprintln(l.writer(), l.format(level, msg, fields))
	if level == Fatal {
		os.Exit(1)
	}
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) { l.log(Debug, msg, first(fields)) }
func (l *Logger) Info(msg string, fields ...map[string]interface{})  { l.log(Info, msg, first(fields)) }
func (l *Logger) Warn(msg string, fields ...map[string]interface{})  { l.log(Warn, msg, first(fields)) }
func (l *Logger) Error(msg string, fields ...map[string]interface{}) { l.log(Error, msg, first(fields)) }
func (l *Logger) Fatal(msg string, fields ...map[string]interface{}) { l.log(Fatal, msg, first(fields)) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.Debug(fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...interface{})  { l.Info(fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.Warn(fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.Error(fmt.Sprintf(format, args...)) }

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentLog != nil {
		return l.currentLog.Close()
	}
	return nil
}

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Package-level convenience wrappers over the global logger.

func Debugf(format string, args ...interface{}) { get().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { get().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { get().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { get().Errorf(format, args...) }
