package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{" warning ", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"trace", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "info", true)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("benchmark finished", zap.String("benchmark", "benchmark_a"), zap.Int("samples", 3))
	require.NoError(t, logger.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "benchmark finished", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "benchmark_a", entry["benchmark"])
	assert.EqualValues(t, 3, entry["samples"])
}

func TestConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "debug", false)
	require.NoError(t, err)

	logger.Debug("split tasks", zap.Ints("tasks", []int{2, 1}))
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.Contains(t, out, "DEBUG")
	assert.Contains(t, out, "split tasks")
	assert.Contains(t, out, `"tasks": [2, 1]`)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("verbose", false)
	assert.Error(t, err)
}
