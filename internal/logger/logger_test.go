package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"detectstream/internal/config"
)

func TestWriterLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf)

	l.Info("camera %s ready", "front")
	l.Warning("queue %d%% full", 90)
	l.Error("backend failed: %v", os.ErrNotExist)

	out := buf.String()
	require.Contains(t, out, "INFO")
	require.Contains(t, out, "camera front ready")
	require.Contains(t, out, "queue 90% full")
	require.Contains(t, out, "ERROR")
	require.Contains(t, out, "logger_test.go")
}

func TestNewLogger_WritesAndCleansFiles(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(&config.Config{LogDirectory: dir})

	l.Error("boom")
	data, err := os.ReadFile(filepath.Join(dir, "error.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), "boom")

	require.NoError(t, l.CleanLogs("error.log"))
	data, err = os.ReadFile(filepath.Join(dir, "error.log"))
	require.NoError(t, err)
	require.Empty(t, data)
}
