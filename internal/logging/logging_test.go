package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestSetupLoggerWithWritersFansOut(t *testing.T) {
	var text, js bytes.Buffer
	logger := SetupLoggerWithWriters(&text, &js, slog.LevelInfo)

	logger.Info("message appended", "conversation_id", "c1")
	logger.Debug("hidden")

	assert.Contains(t, text.String(), "message appended")
	assert.NotContains(t, text.String(), "hidden")

	var record map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &record))
	assert.Equal(t, "c1", record["conversation_id"])
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.log")
	logger, cleanup := SetupLogger(path, slog.LevelInfo)
	logger.Info("hello file")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello file"`)
}
