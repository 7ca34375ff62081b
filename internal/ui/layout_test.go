package ui

import (
	"strings"
	"testing"
)

func TestLayoutContentHeight(t *testing.T) {
	t.Parallel()

	l := NewLayout(80, 24)
	if got := l.ContentHeight(); got != 22 {
		t.Fatalf("ContentHeight()=%d want=22", got)
	}
}

func TestLayoutRenderWithFrameFillsTerminal(t *testing.T) {
	t.Parallel()

	l := NewLayout(40, 10)
	out := l.RenderWithFrame(
		l.RenderHeader("Sortify", "connected"),
		"one\ntwo",
		l.RenderStatusBar("q quit"),
	)

	if lines := strings.Count(out, "\n") + 1; lines != 10 {
		t.Fatalf("rendered %d lines want=10", lines)
	}
	if !strings.Contains(out, "Sortify") || !strings.Contains(out, "q quit") {
		t.Fatalf("frame missing header or status bar:\n%s", out)
	}
}
