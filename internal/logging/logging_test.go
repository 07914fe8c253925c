package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iorp/neorun/internal/config"
)

func TestNew_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neorun.log")
	logger, err := New(config.LoggingConfig{Level: "info", Format: "json", Output: path}, false)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("unit compiled", zap.String("unit", "greet.neo"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry), "exactly one JSON line expected: %s", data)
	assert.Equal(t, "unit compiled", entry["msg"])
	assert.Equal(t, "greet.neo", entry["unit"])
	assert.Equal(t, "neorun", entry["logger"])
}

func TestNew_VerboseForcesDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	logger, err := New(config.LoggingConfig{Level: "error", Format: "console", Output: path}, true)
	require.NoError(t, err)

	logger.Debug("state change")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "state change")
}

func TestNew_Errors(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "chatty", Format: "json"}, false)
	assert.ErrorContains(t, err, "failed to initialize logger")

	_, err = New(config.LoggingConfig{Level: "info", Format: "xml"}, false)
	assert.ErrorContains(t, err, `unknown format "xml"`)
}
