// Package logging provides structured debug logging for locus components.
// All components of one process append to a session-specific log file under
// ~/.locus/logs/, identified by a shared session UUID.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	sessionID     string
	sessionIDOnce sync.Once

	logDir   string
	initOnce sync.Once
	initErr  error
)

func currentSessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

func ensureLogDir() error {
	initOnce.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			initErr = fmt.Errorf("failed to get home directory: %w", err)
			return
		}
		logDir = filepath.Join(home, ".locus", "logs")
		if err := os.MkdirAll(logDir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
		}
	})
	return initErr
}

// Logger writes timestamped, component-tagged entries. All log methods write
// unconditionally; there is no level filtering.
type Logger struct {
	component string
	file      *os.File
	logger    *log.Logger
	mu        sync.Mutex
	closeOnce sync.Once
}

// NewLogger creates a logger for a component, appending to the shared
// session log file. If the file cannot be opened it falls back to stderr and
// returns the underlying error alongside the usable fallback logger.
func NewLogger(component string) (*Logger, error) {
	if err := ensureLogDir(); err != nil {
		return fallbackLogger(component, err), err
	}

	path := filepath.Join(logDir, fmt.Sprintf("%s-locus.log", currentSessionID()))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fallbackLogger(component, fmt.Errorf("failed to open log file: %w", err)), err
	}

	return &Logger{
		component: component,
		file:      file,
		logger:    log.New(file, "", 0),
	}, nil
}

func fallbackLogger(component string, err error) *Logger {
	l := log.New(os.Stderr, fmt.Sprintf("[%s] ", component), log.LstdFlags)
	l.Printf("WARNING: file logging unavailable, using stderr: %v", err)
	return &Logger{component: component, logger: l}
}

func (l *Logger) write(level, format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.logger.Printf("[%s] [%s] [%s] %s", ts, l.component, level, fmt.Sprintf(format, v...))
}

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, v ...any) { l.write("DEBUG", format, v...) }

// Infof logs an info-level message.
func (l *Logger) Infof(format string, v ...any) { l.write("INFO", format, v...) }

// Warnf logs a warning-level message.
func (l *Logger) Warnf(format string, v ...any) { l.write("WARN", format, v...) }

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, v ...any) { l.write("ERROR", format, v...) }

// Close closes the underlying log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// SessionID returns the process-wide logging session ID.
func SessionID() string {
	return currentSessionID()
}
