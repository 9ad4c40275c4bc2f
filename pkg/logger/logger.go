package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with pipeline-specific context helpers
type Logger struct {
	zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	Output string // stdout or file path
}

// New creates a new logger with the given configuration
func New(cfg Config) *Logger {
	var output io.Writer = os.Stdout

	if cfg.Output != "" && cfg.Output != "stdout" {
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			output = file
		}
	}

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	return &Logger{
		Logger: zerolog.New(output).
			Level(level).
			With().
			Timestamp().
			Caller().
			Logger(),
	}
}

// Default creates a console logger at info level
func Default() *Logger {
	return New(Config{
		Level:  "info",
		Format: "console",
		Output: "stdout",
	})
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithComponent adds a component field to the logger
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.With().Str("component", component).Logger(),
	}
}

// WithSource adds content source fields
func (l *Logger) WithSource(sourceType, sourceName string) *Logger {
	return &Logger{
		Logger: l.With().
			Str("source_type", sourceType).
			Str("source_name", sourceName).
			Logger(),
	}
}

// WithAggregationID adds an aggregation ID to the logger
func (l *Logger) WithAggregationID(id uint) *Logger {
	return &Logger{
		Logger: l.With().Uint("aggregation_id", id).Logger(),
	}
}

// WithPostID adds a post ID to the logger
func (l *Logger) WithPostID(id uint) *Logger {
	return &Logger{
		Logger: l.With().Uint("post_id", id).Logger(),
	}
}

// WithVideoID adds a video generation ID to the logger
func (l *Logger) WithVideoID(id uint) *Logger {
	return &Logger{
		Logger: l.With().Uint("video_id", id).Logger(),
	}
}

// WithJob adds job identity fields
func (l *Logger) WithJob(kind, id, lane string) *Logger {
	return &Logger{
		Logger: l.With().
			Str("job_kind", kind).
			Str("job_id", id).
			Str("lane", lane).
			Logger(),
	}
}
