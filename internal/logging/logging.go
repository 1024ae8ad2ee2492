// Package logging provides isomoira's append-only run log: every line is
// flushed immediately so a killed process leaves a readable trail.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger appends timestamped, run-tagged lines to isomoira.log in the
// project root and optionally tees them to stdout.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	runID  string
	toTerm bool
}

// Open opens (or creates) isomoira.log in projectDir, append-mode.
func Open(projectDir, runID string, teeStdout bool) (*Logger, error) {
	path := filepath.Join(projectDir, "isomoira.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	return &Logger{file: f, runID: runID, toTerm: teeStdout}, nil
}

// Close flushes and closes the underlying log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func (l *Logger) write(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("%s [%s] [%s] %s\n",
		time.Now().Format(time.RFC3339), l.runID, level, msg)

	if _, err := l.file.WriteString(line); err != nil {
		return
	}
	_ = l.file.Sync()

	if l.toTerm {
		fmt.Print(line)
	}
}

// Info logs an informational line.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write("INFO", fmt.Sprintf(format, args...))
}

// Warn logs a recoverable-condition line.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write("WARN", fmt.Sprintf(format, args...))
}

// Error logs a fatal/halt-condition line.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write("ERROR", fmt.Sprintf(format, args...))
}
