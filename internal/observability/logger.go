package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/lmittmann/tint"

	"github.com/couchcryptid/weather-telemetry-api/internal/config"
)

// NewLogger builds the service logger and sets it as the slog default: the
// shared JSON logger for production, tint's colored text handler when
// LOG_FORMAT=text.
func NewLogger(cfg *config.Config) *slog.Logger {
	if cfg.LogFormat == "text" {
		return newTextLogger(os.Stdout, cfg.LogLevel)
	}
	return sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
}

func newTextLogger(w io.Writer, level string) *slog.Logger {
	logger := slog.New(tint.NewHandler(w, &tint.Options{
		Level:      textLevel(level),
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)
	return logger
}

// textLevel accepts the same names as the JSON logger; unknown names are info.
func textLevel(s string) slog.Level {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		s = "warn"
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
