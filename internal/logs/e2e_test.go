package logs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/search-mcp/search-mcp/internal/config"
)

// TestSetupLoggerWritesToFile exercises the full stack: a zap logger built
// from LogConfig with file output enabled actually rotates through
// lumberjack and lands readable JSON lines on disk.
func TestSetupLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)

	cfg := &config.LogConfig{
		Level:      "debug",
		EnableFile: true,
		Filename:   "search-mcp-test.log",
		MaxSize:    1,
		MaxBackups: 2,
		MaxAge:     1,
		JSONFormat: true,
	}

	logger, err := SetupLogger(cfg)
	require.NoError(t, err)
	logger.Info("hello world", zap.String("key", "value"))
	require.NoError(t, logger.Sync())

	path, err := GetLogFilePath(cfg.Filename)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello world")
}

func TestSetupLoggerDefaultsToStderrOnly(t *testing.T) {
	logger, err := SetupLogger(nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestGetLogFilePathCreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)

	path, err := GetLogFilePath("nested.log")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Dir(path))
	require.NoError(t, err)
}
