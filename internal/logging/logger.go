package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log message
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

var levelStrings = map[Level]string{
	LevelDebug:   "DEBUG",
	LevelInfo:    "INFO",
	LevelWarning: "WARN",
	LevelError:   "ERROR",
}

// ParseLevel maps a level name to a Level, defaulting to info
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarning
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger handles application logging
type Logger struct {
	logger   *log.Logger
	file     *os.File
	level    Level
	filename string
	maxSize  int64
	mutex    sync.Mutex
}

// New creates a logger writing to stdout and, when path is set, to a log file
func New(path string, level Level) (*Logger, error) {
	if path == "" {
		return NewWriter(os.Stdout, level), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %v", err)
	}

	return &Logger{
		logger:   log.New(io.MultiWriter(file, os.Stdout), "", log.LstdFlags),
		file:     file,
		level:    level,
		filename: path,
		maxSize:  50 * 1024 * 1024, // 50MB
	}, nil
}

// NewWriter creates a logger without a backing file
func NewWriter(w io.Writer, level Level) *Logger {
	return &Logger{
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
	}
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if err := l.rotateIfNeeded(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate log file: %v\n", err)
	}

	l.logger.Printf("[%s] %s", levelStrings[level], fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.log(LevelWarning, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Printf logs at info level. It lets the logger back libraries that expect a
// Printf-style sink, such as the cron scheduler.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// rotateIfNeeded renames the log file with a timestamp suffix once it
// outgrows maxSize. Callers hold the mutex.
func (l *Logger) rotateIfNeeded() error {
	if l.file == nil {
		return nil
	}

	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat log file: %v", err)
	}
	if info.Size() < l.maxSize {
		return nil
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %v", err)
	}

	rotatedPath := fmt.Sprintf("%s.%s", l.filename, time.Now().Format("20060102-150405"))
	if err := os.Rename(l.filename, rotatedPath); err != nil {
		return fmt.Errorf("failed to rename log file: %v", err)
	}

	file, err := os.OpenFile(l.filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open new log file: %v", err)
	}

	l.logger.SetOutput(io.MultiWriter(file, os.Stdout))
	l.file = file
	return nil
}

// Close closes the underlying file, if any
func (l *Logger) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.file == nil {
		return nil
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %v", err)
	}
	l.file = nil
	return nil
}
