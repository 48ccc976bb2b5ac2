// Package logging builds the component loggers used across catalog-mirror.
//
// Every component gets a standard *log.Logger with a bracketed prefix. When
// a log file is configured, output goes to stderr and to a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures the log outputs.
type Config struct {
	// File, when set, receives a copy of all output with rotation.
	File       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Stderr overrides the console writer (tests).
	Stderr io.Writer
}

// Loggers hands out prefixed loggers that share one output.
type Loggers struct {
	out   io.Writer
	debug bool
	file  *lumberjack.Logger

	mu    sync.Mutex
	cache map[string]*log.Logger
}

// New creates the logger factory. The log directory is created if needed.
func New(cfg Config) (*Loggers, error) {
	console := cfg.Stderr
	if console == nil {
		console = os.Stderr
	}

	l := &Loggers{
		out:   console,
		debug: strings.EqualFold(cfg.Level, "debug"),
		cache: make(map[string]*log.Logger),
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, err
		}
		l.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		l.out = io.MultiWriter(console, l.file)
	}
	return l, nil
}

// Writer returns the shared output.
func (l *Loggers) Writer() io.Writer {
	return l.out
}

// For returns the logger for component, prefixed "[component] ".
func (l *Loggers) For(component string) *log.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lg, ok := l.cache[component]; ok {
		return lg
	}
	lg := log.New(l.out, "["+component+"] ", log.LstdFlags)
	l.cache[component] = lg
	return lg
}

// Debug returns a debug logger for component. Output is discarded unless
// the level is "debug".
func (l *Loggers) Debug(component string) *log.Logger {
	if !l.debug {
		return log.New(io.Discard, "", 0)
	}
	return log.New(l.out, "["+component+"] DEBUG: ", log.LstdFlags|log.Lshortfile)
}

// DebugEnabled reports whether debug output is on.
func (l *Loggers) DebugEnabled() bool {
	return l.debug
}

// Close flushes and closes the log file, if any.
func (l *Loggers) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
