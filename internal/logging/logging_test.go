package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"ERROR", slog.LevelError},
		{"warning", slog.LevelWarn},
		{"warn", slog.LevelWarn},
		{"Info", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.name))
		})
	}
}

func TestInitFiltersBelowLevel(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	Init(Config{Level: LevelWarning}, &buf)
	slog.Info("Host verified")
	slog.Warn("Agent cycle failed", "error", "connection refused")

	assert.NotContains(t, buf.String(), "Host verified")
	assert.Contains(t, buf.String(), `msg="Agent cycle failed" error="connection refused"`)
}

func TestConfigDebug(t *testing.T) {
	assert.True(t, Config{Level: "debug"}.Debug())
	assert.False(t, Config{Level: LevelInfo}.Debug())
}
