package logger

import (
	"bytes"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	flags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(flags)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{" notice ", NoticeLevel, false},
		{"error", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStdLoggerLevels(t *testing.T) {
	buf := captureLog(t)
	l := NewStdLogger(false, NoticeLevel)

	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	l.Notice("shown %d", 3)
	l.ErrorWithNetwork(8453, "failed %s", "fill")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[NOTICE] shown 3")
	assert.Contains(t, out, "[ERROR]  [BASE] failed fill")
}

func TestUnknownNetworkPrefix(t *testing.T) {
	buf := captureLog(t)
	l := NewStdLogger(false, DebugLevel)

	l.InfoWithNetwork(99999, "settled")
	assert.Contains(t, buf.String(), "[INFO]   [99999] settled")
}
