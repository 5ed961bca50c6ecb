package slogging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, LogLevelInfo, ParseLogLevel("info"))
	assert.Equal(t, LogLevelWarn, ParseLogLevel("warn"))
	assert.Equal(t, LogLevelWarn, ParseLogLevel("WARNING"))
	assert.Equal(t, LogLevelError, ParseLogLevel("error"))
	// Unknown levels default to info
	assert.Equal(t, LogLevelInfo, ParseLogLevel("verbose"))
}

func TestSanitizeLogMessage(t *testing.T) {
	assert.Equal(t, "clean message", SanitizeLogMessage("clean message"))
	assert.Equal(t, "one two", SanitizeLogMessage("one\ntwo"))
	assert.Equal(t, "one two", SanitizeLogMessage("one\r\ntwo"))
	assert.Equal(t, "tabbed value", SanitizeLogMessage("tabbed\tvalue"))
	assert.Equal(t, "spaced out", SanitizeLogMessage("  spaced   out  "))
	assert.Equal(t, "", SanitizeLogMessage("\n\r\t"))
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(Config{
		Level:  LogLevelWarn,
		LogDir: dir,
	})
	require.NoError(t, err)
	defer func() { _ = logger.Close() }()

	assert.Equal(t, LogLevelWarn, logger.level)
	// Below-threshold calls are dropped before formatting
	logger.Debug("dropped %s", "message")
	logger.Info("dropped %s", "message")
}
