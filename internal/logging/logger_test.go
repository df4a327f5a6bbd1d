package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cardio-risk-server/internal/domain"
)

func TestNew_FormatAndLevel(t *testing.T) {
	logger := New(domain.LoggingConfig{Level: "debug", Format: "text"})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	logger = New(domain.LoggingConfig{Level: "nonsense", Format: "json"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestNew_FileOutputRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cardio.log")

	logger := New(domain.LoggingConfig{Level: "info", Output: "file", Filename: path, MaxSize: 1})
	rotated, ok := logger.Out.(*lumberjack.Logger)
	require.True(t, ok)
	assert.Equal(t, path, rotated.Filename)

	logger.Info("assessment stored")
	require.NoError(t, rotated.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "assessment stored")
}

func TestNewStderr(t *testing.T) {
	logger := NewStderr("warn", "json")
	assert.Equal(t, os.Stderr, logger.Out)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
}
