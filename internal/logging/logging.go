// Package logging builds the component loggers. Every component logs through
// a *log.Logger with a bracketed prefix; they share one writer, which is a
// rotating file when log.file is configured and stderr otherwise.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mschirtzinger/todosync/internal/config"
)

// Set hands out prefixed loggers sharing one writer.
type Set struct {
	w      io.Writer
	closer io.Closer
}

// New creates the logger set for cfg.
func New(cfg config.LogConfig) (*Set, error) {
	if cfg.File == "" {
		return &Set{w: os.Stderr}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	return &Set{w: rotator, closer: rotator}, nil
}

// Discard returns a set that drops everything.
func Discard() *Set {
	return &Set{w: io.Discard}
}

// Logger returns a logger writing "[name] " prefixed lines.
func (s *Set) Logger(name string) *log.Logger {
	return log.New(s.w, "["+name+"] ", log.LstdFlags)
}

// Writer returns the shared destination.
func (s *Set) Writer() io.Writer {
	return s.w
}

// Close releases the log file, if any.
func (s *Set) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
