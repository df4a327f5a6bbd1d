// Package logging builds the process logger from configuration.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cardio-risk-server/internal/domain"
)

// New returns a logrus logger writing to stdout, a rotated file, or both.
func New(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	if strings.EqualFold(cfg.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetOutput(writerFor(cfg))
	return logger
}

// NewStderr returns a logger that never writes to stdout. The MCP stdio
// transport owns stdout, so anything else there corrupts the protocol stream.
func NewStderr(level, format string) *logrus.Logger {
	logger := New(domain.LoggingConfig{Level: level, Format: format, Output: "stdout"})
	logger.SetOutput(os.Stderr)
	return logger
}

func writerFor(cfg domain.LoggingConfig) io.Writer {
	output := strings.ToLower(cfg.Output)
	if output != "file" && output != "both" {
		return os.Stdout
	}

	filename := cfg.Filename
	if filename == "" {
		filename = "logs/cardio-risk-server.log"
	}
	rotated := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	if output == "both" {
		return io.MultiWriter(os.Stdout, rotated)
	}
	return rotated
}
