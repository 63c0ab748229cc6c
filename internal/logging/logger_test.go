package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depth-overlay-go/internal/config"
)

func TestNewLoggerLevel(t *testing.T) {
	logger, err := NewLogger(config.LogSettings{LogLevel: "Debug"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	_, err = NewLogger(config.LogSettings{LogLevel: "chatty"})
	assert.Error(t, err)
}

func TestSourceFormatterAddsCaller(t *testing.T) {
	logger, err := NewLogger(config.LogSettings{})
	require.NoError(t, err)
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.WithField("seq", 7).Info("frame skipped")
	out := buf.String()
	assert.Contains(t, out, "frame skipped")
	assert.Contains(t, out, "seq=7")
	assert.Contains(t, out, "source=\"logger_test.go:")
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "overlay.log")
	logger, err := NewLogger(config.LogSettings{LogFile: path, MaxSize: 1})
	require.NoError(t, err)

	logger.Warn("written to file")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}
