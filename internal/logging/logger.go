// Package logging builds the structured loggers used by the replay engine.
// Level, prefix and destination come from SMALIEN_* environment variables,
// optionally raised by the session configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const defaultPrefix = "smalien "

// LoggerCloser wraps a logger and provides a Close method for cleanup
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
	// Path is the log file, empty when logging to a standard stream.
	Path string
}

// Close closes the underlying writer if it's closeable
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// Options selects where and how much a replay session logs.
type Options struct {
	Level  log.Level
	Prefix string
	// ToFile writes to a timestamped smalien-*.log in Dir instead of stderr.
	ToFile bool
	Dir    string
}

// OptionsFromEnv reads the environment:
// SMALIEN_LOG_LEVEL: debug, info, warn, error (default: info)
// SMALIEN_LOG_PREFIX: prefix for log messages (default: "smalien ")
// SMALIEN_LOG_TO_FILE: when set to "1", logs to a timestamped file
func OptionsFromEnv() Options {
	prefix := os.Getenv("SMALIEN_LOG_PREFIX")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return Options{
		Level:  ParseLevel(os.Getenv("SMALIEN_LOG_LEVEL")),
		Prefix: prefix,
		ToFile: os.Getenv("SMALIEN_LOG_TO_FILE") == "1",
	}
}

// Session returns the logger of a replay session. debug lowers the
// environment's level to debug; dir receives the log file when the
// environment asks for one.
func Session(debug bool, dir string) (*LoggerCloser, error) {
	o := OptionsFromEnv()
	if debug {
		o.Level = log.DebugLevel
	}
	o.Dir = dir
	return New(o)
}

// New builds a logger from o.
func New(o Options) (*LoggerCloser, error) {
	if !o.ToFile {
		return newLogger(os.Stderr, o), nil
	}
	if o.Dir != "" {
		if err := os.MkdirAll(o.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	path := filepath.Join(o.Dir, fmt.Sprintf("smalien-%s.log", time.Now().Format("20060102-150405")))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	lc := newLogger(f, o)
	lc.closer, lc.Path = f, path
	return lc, nil
}

// NewLoggerWithWriter creates a logger on w configured from the environment.
// w is closed by Close when it is closeable and not a standard stream.
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lc := newLogger(w, OptionsFromEnv())
	if c, ok := w.(io.Closer); ok && w != io.Writer(os.Stderr) && w != io.Writer(os.Stdout) {
		lc.closer = c
	}
	return lc
}

func newLogger(w io.Writer, o Options) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           o.Level,
	})
	prefix := o.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &LoggerCloser{Logger: lg.WithPrefix(prefix)}
}

// Discard returns a logger that drops everything. Engine components fall
// back to it when no logger is configured.
func Discard() *log.Logger {
	lg := log.New(io.Discard)
	lg.SetLevel(log.FatalLevel)
	return lg
}

// ParseLevel maps a level name to a log level, defaulting to info.
func ParseLevel(name string) log.Level {
	switch strings.ToLower(name) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// IsDebug reports whether lg emits debug records. Callers use it to skip
// building expensive debug fields.
func IsDebug(lg *log.Logger) bool {
	return lg != nil && lg.GetLevel() <= log.DebugLevel
}
