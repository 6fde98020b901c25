package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"":        LevelInfo,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		" error ": LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)

	l.Debug("debug %d", 1)
	l.Info("info %d", 2)
	assert.Empty(t, buf.String())

	l.Warn("warn %d", 3)
	l.Error("error %d", 4)
	out := buf.String()
	assert.Contains(t, out, "WARN: ")
	assert.Contains(t, out, "warn 3")
	assert.Contains(t, out, "ERROR: ")
	assert.Contains(t, out, "error 4")

	buf.Reset()
	l.SetLevel(LevelDebug)
	l.Debug("now visible")
	assert.Contains(t, buf.String(), "DEBUG: ")
	assert.Contains(t, buf.String(), "logger_test.go")
}
