// Package logging configures the structured logger shared by every
// component. It follows the same shape as the teacher's standalone
// servers: JSON output by default (Loki-compatible), a pretty console
// writer for local development, and a base logger enriched with
// service/component fields rather than a bare package-global.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level names accepted in configuration.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the wire shape of log output.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// Config holds logger configuration recognized at process start.
type Config struct {
	Level   Level  `env:"LOG_LEVEL" envDefault:"info"`
	Format  Format `env:"LOG_FORMAT" envDefault:"json"`
	Service string `env:"LOG_SERVICE" envDefault:"odin-telemetry"`
}

// New builds the base logger for the process. Every component derives a
// narrower sub-logger from it via With().Str("component", name).Logger()
// rather than reaching for a global.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	switch cfg.Level {
	case LevelDebug:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case LevelWarn:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case LevelError:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if cfg.Format == FormatPretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", cfg.Service).
		Logger()
}

// Component returns a sub-logger tagged with the owning component's name,
// the way every internal package should obtain its logger.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
