package mlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := NewLogger(&Config{Level: "info", File: path})
	require.NoError(t, err)

	logger.Info("hello world")
	require.NoError(t, logger.Sync())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "hello world")
}

func TestNewLoggerRejectsInvalidLevel(t *testing.T) {
	_, err := NewLogger(&Config{Level: "not-a-level"})
	assert.Error(t, err)
}

func TestNewLoggerDefaultsLevelWhenEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	_, err := NewLogger(&Config{File: path})
	require.NoError(t, err)
}
