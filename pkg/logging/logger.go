// Package logging provides structured logging configuration and utilities.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	Level   string
	Pretty  bool
	NoColor bool
	Output  io.Writer
	// LevelVar, when set, receives Level and controls the logger, so the level
	// can be changed after construction.
	LevelVar *slog.LevelVar
}

// ParseLevel maps a level name onto slog. Unknown or empty names fall back to info.
func ParseLevel(name string) slog.Level {
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return slog.LevelInfo
	}

	switch level {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return slog.LevelDebug
	case zerolog.WarnLevel:
		return slog.LevelWarn
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a JSON slog logger. Pretty output is rendered for humans by
// zerolog's console writer.
func NewLogger(cfg Config) *slog.Logger {
	var output io.Writer = os.Stdout
	if cfg.Output != nil {
		output = cfg.Output
	}

	var level slog.Leveler = ParseLevel(cfg.Level)
	if cfg.LevelVar != nil {
		cfg.LevelVar.Set(ParseLevel(cfg.Level))
		level = cfg.LevelVar
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Pretty {
		opts.ReplaceAttr = zerologFieldNames
		output = zerolog.ConsoleWriter{
			Out:        output,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		}
	}

	return slog.New(slog.NewJSONHandler(output, opts))
}

// zerologFieldNames renames slog's built-in keys to the ones the console writer
// understands.
func zerologFieldNames(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}

	switch a.Key {
	case slog.TimeKey:
		a.Key = zerolog.TimestampFieldName
	case slog.MessageKey:
		a.Key = zerolog.MessageFieldName
	case slog.LevelKey:
		a.Key = zerolog.LevelFieldName
		if level, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(zerologLevel(level).String())
		}
	}
	return a
}

func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
