// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps debug, info, warn and error to slog levels. An empty
// string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New returns a JSON logger writing to w. An unknown level falls back to
// info and is reported through the returned logger.
func New(w io.Writer, level string) *slog.Logger {
	lvl, err := ParseLevel(level)
	log := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	if err != nil {
		log.Warn("using info level", "err", err)
	}
	return log
}
