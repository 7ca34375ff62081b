// Package logging builds the structured logger shared by the session,
// realtime and UI layers.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// TimeFormat is the record timestamp layout.
const TimeFormat = "Jan 02 15:04:05.000"

// ParseLevel maps a config level name to a slog level. Unknown names
// resolve to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a key=value logger writing to w at the given level and
// installs it as the process default. Output is colored only when w is
// a terminal.
func New(w io.Writer, level string) *slog.Logger {
	h := tint.NewHandler(w, &tint.Options{
		Level:      ParseLevel(level),
		AddSource:  true,
		TimeFormat: TimeFormat,
		NoColor:    !colorize(w),
	})

	log := slog.New(h)
	slog.SetDefault(log)
	return log
}

func colorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDefault returns log, or the process default when log is nil.
func OrDefault(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}
