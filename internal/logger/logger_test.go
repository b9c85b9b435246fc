package logger

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLoggerFormatsFields(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewDefaultLogger(buf, LevelDebug)

	l.Info("request handled", F("method", "GET"), F("status", 200))

	line := buf.String()
	assert.Contains(t, line, "INFO: request handled | method=GET status=200")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestDefaultLoggerLevelThreshold(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewDefaultLogger(buf, LevelWarn)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	l.Error("shown too")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))
}

func TestSanitizeValue(t *testing.T) {
	long := strings.Repeat("x", 500)
	got := sanitizeValue(long).(string)
	assert.True(t, strings.HasSuffix(got, "...[truncated]"))
	assert.Equal(t, `a\nb`, sanitizeValue("a\nb"))
	assert.Equal(t, 42, sanitizeValue(42))
}

func TestSanitizeValueKeepsRunesWhole(t *testing.T) {
	// "é" is two bytes, so byte 200 falls inside a rune.
	long := "x" + strings.Repeat("é", 300)
	got := sanitizeValue(long).(string)

	assert.True(t, utf8.ValidString(got), "%q", got)
	kept := strings.TrimSuffix(got, "...[truncated]")
	assert.Len(t, kept, 199)
	assert.True(t, strings.HasPrefix(long, kept))
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, LevelDebug, l)

	l, err = ParseLevel("warning")
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, l)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
