package qlog

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestSimpleHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(slog.LevelInfo, &buf).With("run_id", "abc")

	log.Debug("hidden")
	log.Info("Parsing 'aiida.out'", "bytes", 12)
	log.Error("failed")

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if lines[0] != "ℹ️  Parsing 'aiida.out' run_id=abc, bytes=12" {
		t.Errorf("unexpected info line %q", lines[0])
	}
	if lines[1] != "❌ failed run_id=abc" {
		t.Errorf("unexpected error line %q", lines[1])
	}
}

func TestNewDiscard(t *testing.T) {
	log := NewDiscard()
	if log.Enabled(context.Background(), slog.LevelError) {
		t.Error("discard logger should not enable error level")
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("ParseLevel(loud) should fail")
	}
}
