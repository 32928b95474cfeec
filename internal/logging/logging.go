// Package logging wires zerolog the way the teacher's bridge entrypoint
// does: one configured root logger constructed at startup, then narrowed
// with .With() per component and per session rather than referenced as a
// package-level global.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the root logger's level and output format.
type Config struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}
	return c
}

// New builds the root logger for the process. Pretty mode uses zerolog's
// console writer (dev); otherwise newline-delimited JSON to stderr (prod).
func New(cfg Config) zerolog.Logger {
	cfg = cfg.WithDefaults()
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.Pretty {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		return zerolog.New(writer).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
