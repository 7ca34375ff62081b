package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: " warning ", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := ParseLevel(tc.in)
		if got != tc.want {
			t.Fatalf("ParseLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	log := New(&buf, "warn")

	log.Info("session.restore.start")
	log.Warn("realtime.reconnect.scheduled", "attempt", 1)

	out := buf.String()
	if strings.Contains(out, "session.restore.start") {
		t.Fatalf("info record written at warn level: %q", out)
	}
	if !strings.Contains(out, "realtime.reconnect.scheduled") || !strings.Contains(out, "attempt=1") {
		t.Fatalf("warn record missing: %q", out)
	}
}

func TestNewNoColorForBuffer(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	New(&buf, "debug").Error("session.store.save_failed", "err", "locked")

	out := buf.String()
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("escape codes in non-terminal output: %q", out)
	}
	if !strings.Contains(out, "err=locked") {
		t.Fatalf("attr missing: %q", out)
	}
}
