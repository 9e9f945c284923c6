package logging

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevelDefaultsToInfoOnUnknown(t *testing.T) {
	assert.Equal(t, Info, ParseLevel("bogus"))
	assert.Equal(t, Debug, ParseLevel("debug"))
	assert.Equal(t, Warn, ParseLevel("warning"))
}

func TestLoggerSuppressesBelowConfiguredLevel(t *testing.T) {
	l, err := New(Options{Level: "warn", Output: "stdout"})
	require.NoError(t, err)

	assert.False(t, l.shouldLog(Debug))
	assert.False(t, l.shouldLog(Info))
	assert.True(t, l.shouldLog(Warn))
	assert.True(t, l.shouldLog(Error))
}

func TestFormatIncludesLevelAndFields(t *testing.T) {
	l, err := New(Options{Level: "debug", Output: "stdout"})
	require.NoError(t, err)

	line := l.format(Error, "disk full", map[string]interface{}{"path": "asset/1"})
	assert.True(t, strings.Contains(line, "ERROR"))
	assert.True(t, strings.Contains(line, "disk full"))
	assert.True(t, strings.Contains(line, "path=asset/1"))
}
