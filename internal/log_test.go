package internal

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		ok   bool
	}{
		{"ERROR", LogLevelError, true},
		{"warn", LogLevelWarn, true},
		{" Debug ", LogLevelDebug, true},
		{"TRACE", LogLevelTrace, true},
		{"verbose", LogLevelInfo, false},
		{"", LogLevelInfo, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLogLevel(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LogLevelWarn).With("analysis")

	logger.Info("hidden %d", 1)
	logger.Debug("hidden")
	logger.Warn("queen fallback k=%d", 4)
	logger.Error("failed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] [analysis] queen fallback k=4")
	assert.Contains(t, out, "[ERROR] [analysis] failed")
}
