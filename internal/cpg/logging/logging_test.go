package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_OutputIsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := New(Config{Level: "debug", Output: &buf})
	require.NoError(t, err)
	defer cleanup()

	logger.Named("sync").Debug("pushed rows", zap.Int("rows", 3))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "sync", entry["logger"])
	assert.Equal(t, "pushed rows", entry["msg"])
	assert.Equal(t, float64(3), entry["rows"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := New(Config{Level: "warn", Output: &buf})
	require.NoError(t, err)
	defer cleanup()

	logger.Info("hidden")
	logger.Warn("shown")
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := New(Config{Level: "chatty"})
	assert.Error(t, err)
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "cpg.log")
	logger, cleanup, err := New(Config{File: path})
	require.NoError(t, err)

	logger.Info("to file", zap.String("peer", "http://localhost:8090"))
	cleanup()
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"peer":"http://localhost:8090"`)
}

func TestNew_Stderr(t *testing.T) {
	logger, cleanup, err := New(Config{Development: true})
	require.NoError(t, err)
	assert.NotNil(t, logger)
	cleanup()
}
