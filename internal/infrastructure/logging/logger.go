// Package logging builds the hclog logger used by every component and keeps
// the log file bounded.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mattn/go-isatty"
)

// Options configures New.
type Options struct {
	Name  string
	Level string
	// File is appended to; empty disables file output.
	File string
	// Stderr receives a copy of every line when it is a terminal. Nil
	// means os.Stderr.
	Stderr *os.File
	// ForceStderr echoes to Stderr even when it is not a terminal.
	ForceStderr bool
}

// Logger is an hclog.Logger that owns its file handle.
type Logger struct {
	hclog.Logger
	file *os.File
}

// Close releases the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// New creates the root logger. Sub-components derive named loggers from it
// with Named.
func New(opts Options) (*Logger, error) {
	if opts.Name == "" {
		opts.Name = "plugsync"
	}
	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	var writers []io.Writer
	var file *os.File
	if opts.File != "" {
		f, err := OpenAppend(opts.File)
		if err != nil {
			return nil, err
		}
		file = f
		writers = append(writers, f)
	}
	tty := isatty.IsTerminal(stderr.Fd()) || isatty.IsCygwinTerminal(stderr.Fd())
	if tty || opts.ForceStderr || file == nil {
		writers = append(writers, stderr)
	}

	color := hclog.ColorOff
	if tty && file == nil {
		color = hclog.AutoColor
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       opts.Name,
		Level:      level,
		Output:     io.MultiWriter(writers...),
		Color:      color,
		TimeFormat: "2006-01-02T15:04:05Z07:00",
		TimeFn:     utcNow,
	})
	return &Logger{Logger: logger, file: file}, nil
}

// OpenAppend opens path for appending, creating it and its directory.
func OpenAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// ParseLevel reports whether s names an hclog level.
func ParseLevel(s string) (hclog.Level, bool) {
	level := hclog.LevelFromString(strings.TrimSpace(s))
	return level, level != hclog.NoLevel
}
