// Package logging provides structured logging with slog for geocamd.
//
// Features:
//   - JSON and text output formats
//   - Log levels (debug, info, warn, error)
//   - Per-component child loggers
//   - Sensitive key redaction
//
// The server emits logs to standard output; operators who want files
// redirect the stream.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Level represents a logging level.
type Level = slog.Level

// Log levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format represents the output format for logs.
type Format int

const (
	// FormatText outputs human-readable text logs.
	FormatText Format = iota
	// FormatJSON outputs JSON-structured logs.
	FormatJSON
)

// ParseFormat maps a config string to a Format. Unknown values fall
// back to text.
func ParseFormat(s string) Format {
	if strings.EqualFold(s, "json") {
		return FormatJSON
	}
	return FormatText
}

// ParseLevel maps a config string to a Level. Unknown values fall back
// to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Config holds the logging configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level Level

	// Format is the output format (text or JSON).
	Format Format

	// Output is where logs are written; defaults to stdout.
	Output io.Writer

	// Component is the name of the component using this logger.
	Component string
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:     LevelInfo,
		Format:    FormatJSON,
		Output:    os.Stdout,
		Component: "geocamd",
	}
}

// redactedKeys never reach the log stream with their values intact.
// Nothing here should ever log key material, but a misplaced attribute
// must not become an incident.
var redactedKeys = map[string]bool{
	"private_key": true,
	"signature":   true,
	"password":    true,
	"token":       true,
}

// New creates a slog.Logger with the given configuration.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	// leveler is swapped by SetLevel for hot reload.
	lvl := &slog.LevelVar{}
	lvl.Set(cfg.Level)
	registerLevelVar(cfg.Component, lvl)

	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if redactedKeys[a.Key] {
				a.Value = slog.StringValue("[REDACTED]")
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	logger := slog.New(handler)
	if cfg.Component != "" {
		logger = logger.With("component", cfg.Component)
	}
	return logger
}

var (
	levelMu   sync.Mutex
	levelVars = map[string]*slog.LevelVar{}
)

func registerLevelVar(component string, lvl *slog.LevelVar) {
	levelMu.Lock()
	defer levelMu.Unlock()
	levelVars[component] = lvl
}

// SetLevel adjusts the level of every logger built by New. Used by the
// config hot-reload path.
func SetLevel(level Level) {
	levelMu.Lock()
	defer levelMu.Unlock()
	for _, lvl := range levelVars {
		lvl.Set(level)
	}
}
