package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	for raw, want := range map[string]slog.Level{
		"debug":  slog.LevelDebug,
		" WARN ": slog.LevelWarn,
		"error":  slog.LevelError,
		"info":   slog.LevelInfo,
		"":       slog.LevelInfo,
		"bogus":  slog.LevelInfo,
	} {
		if got := parseLevel(raw); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestDiscard(t *testing.T) {
	log := Discard()
	log.Info("dropped", slog.String("key", "value"))
	if !log.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("discard logger should accept info records")
	}
}
