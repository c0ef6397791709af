package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"easyplanning_backend/pkg/config"
)

// NewLogger builds the service logger. It is passed to every component; the
// zerolog global logger is left alone.
func NewLogger(cfg config.LogConfig) zerolog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg config.LogConfig) zerolog.Logger {
	level := parseLevel(cfg.Level)
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().
		Timestamp().
		Str("service", "easyplanning-billing").
		Logger()
}

func parseLevel(value string) zerolog.Level {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(normalized)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
