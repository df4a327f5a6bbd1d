// Package main provides the lightweight entry point for the cardiac risk MCP server.
// This version requires no external services and keeps all data in SQLite.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cardio-risk-server/internal/config"
	"github.com/cardio-risk-server/internal/logging"
	"github.com/cardio-risk-server/internal/mcp"
)

func main() {
	// Load lightweight configuration
	cfg := config.LoadLiteConfig()

	// stdout carries the MCP stream
	logger := logging.NewStderr(cfg.LogLevel, cfg.LogFormat)
	logger.WithField("data_dir", cfg.DataDir).Info("Starting cardiac risk MCP server (lite)")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := mcp.NewLiteServer(ctx, cfg, mcp.WithLogger(logger))
	if err != nil {
		logger.WithError(err).Fatal("Failed to create MCP server")
	}
	defer server.Close()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("MCP server failed")
		return
	}

	logger.Info("Cardiac risk MCP server (lite) stopped")
}
