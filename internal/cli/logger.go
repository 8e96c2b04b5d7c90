package cli

import (
	"io"
	"log/slog"

	"github.com/MrWong99/speakwell/internal/config"
)

// NewLogger returns a logger writing to w at the configured level, as text
// or JSON lines.
func NewLogger(cfg config.ServerConfig, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch cfg.LogLevel {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.LogFormat == config.LogJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
