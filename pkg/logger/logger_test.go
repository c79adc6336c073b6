package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLineHandler_Simple(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(newHandler(slog.LevelInfo, &buf, FormatSimple, false))

	l.With("session", "s1").Warn("tool failed", "tool", "web_search")
	l.Debug("hidden")

	out := buf.String()
	assert.Equal(t, "WARN tool failed session=s1 tool=web_search\n", out)
}

func TestLineHandler_Group(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(newHandler(slog.LevelInfo, &buf, FormatSimple, false))

	l.WithGroup("turn").Info("done", "rounds", 2)

	assert.Equal(t, "INFO done turn.rounds=2\n", buf.String())
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(newHandler(slog.LevelInfo, &buf, FormatJSON, false))

	l.Info("hello", "k", "v")

	assert.True(t, strings.HasPrefix(buf.String(), "{"))
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestFilteringHandler_KeepsRecordsWithoutPC(t *testing.T) {
	var buf bytes.Buffer
	h := &filteringHandler{handler: newHandler(slog.LevelInfo, &buf, FormatSimple, false), minLevel: slog.LevelInfo}

	rec := slog.NewRecord(time.Time{}, slog.LevelInfo, "manual", 0)
	require.NoError(t, h.Handle(context.Background(), rec))

	assert.Contains(t, buf.String(), "manual")
}

func TestFilteringHandler_LevelGate(t *testing.T) {
	var buf bytes.Buffer
	h := &filteringHandler{handler: newHandler(slog.LevelDebug, &buf, FormatSimple, false), minLevel: slog.LevelWarn}

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}
