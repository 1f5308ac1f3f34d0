package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Config задаёт уровень и формат логов.
type Config struct {
	Level string
	JSON  bool
}

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// New создаёт корневой логгер приложения, пишущий в w.
func New(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With("app", "twitch-chat-bot")
}

// Nop возвращает логгер, который всё отбрасывает. Удобен в тестах.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel разбирает уровень логирования, по умолчанию info.
func ParseLevel(s string) slog.Level {
	if level, ok := levels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return level
	}
	return slog.LevelInfo
}
