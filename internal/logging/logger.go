package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration
type Config struct {
	Level       string `json:"level" yaml:"level"`
	Output      string `json:"output" yaml:"output"` // "stdout", "stderr", or file path
	Component   string `json:"component" yaml:"component"`
	IncludeFile bool   `json:"include_file" yaml:"include_file"` // Include file and line number
	JSONFormat  bool   `json:"json_format" yaml:"json_format"`   // Output as JSON, else console
}

// DefaultConfig returns the logger settings used when none are given
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Output:     "stdout",
		Component:  "liquidity-trap-engine",
		JSONFormat: true,
	}
}

var (
	defaultLogger zerolog.Logger
	once          sync.Once
	mu            sync.RWMutex
)

// ParseLevel converts a string to a zerolog level, falling back to info
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warning":
		return zerolog.WarnLevel
	case "":
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// New creates a zerolog logger from cfg. An unopenable file output falls
// back to stdout.
func New(cfg Config) zerolog.Logger {
	return NewWithWriter(cfg, openOutput(cfg.Output))
}

// NewWithWriter builds the logger on an explicit writer
func NewWithWriter(cfg Config, w io.Writer) zerolog.Logger {
	if !cfg.JSONFormat {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("service", cfg.Component)
	}
	if cfg.IncludeFile {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

func openOutput(output string) io.Writer {
	switch output {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return os.Stdout
	}
	return file
}

// Default returns the process-wide logger
func Default() zerolog.Logger {
	once.Do(func() {
		mu.Lock()
		defaultLogger = New(DefaultConfig())
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger
func SetDefault(l zerolog.Logger) {
	once.Do(func() {})
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}

// Component derives a child logger tagged with a component name
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
