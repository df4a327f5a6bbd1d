// Package main runs the cardiac risk MCP server against the shared Postgres store,
// Redis timeline cache and event stream used by the HTTP API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/cardio-risk-server/internal/cache"
	"github.com/cardio-risk-server/internal/config"
	"github.com/cardio-risk-server/internal/database"
	"github.com/cardio-risk-server/internal/domain"
	"github.com/cardio-risk-server/internal/events"
	"github.com/cardio-risk-server/internal/logging"
	"github.com/cardio-risk-server/internal/mcp"
	"github.com/cardio-risk-server/internal/modelstore"
	"github.com/cardio-risk-server/internal/repository"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()

	// stdout carries the MCP stream
	logger := logging.NewStderr(cfg.Logging.Level, cfg.Logging.Format)
	logger.WithFields(logrus.Fields{
		"server":      cfg.MCP.ServerName,
		"hospital_id": cfg.MCP.HospitalID,
	}).Info("Starting cardiac risk MCP server")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model, err := modelstore.Load(ctx, cfg.Model, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load risk model")
	}

	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	timelines, err := cache.New(cfg.Cache, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create timeline cache")
	}
	defer timelines.Close()

	var publisher domain.EventPublisher = events.NewNoopPublisher(logger)
	if cfg.Events.Kafka.Enabled {
		kafkaPublisher, err := events.NewKafkaPublisher(cfg.Events.Kafka, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka publisher")
		}
		publisher = kafkaPublisher
	}
	defer publisher.Close()

	liteCfg := config.DefaultLiteConfig()
	liteCfg.DataDir = cfg.MCP.DataDir
	liteCfg.HospitalID = cfg.MCP.HospitalID
	liteCfg.LogLevel = cfg.Logging.Level
	liteCfg.LogFormat = cfg.Logging.Format

	server, err := mcp.NewLiteServer(ctx, liteCfg,
		mcp.WithLogger(logger),
		mcp.WithModel(model),
		mcp.WithStore(repository.NewPostgresStore(db.Pool, logger)),
		mcp.WithTimelineCache(timelines),
		mcp.WithEventPublisher(publisher),
		mcp.WithImplementation(cfg.MCP.ServerName, cfg.MCP.ServerVersion),
	)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create MCP server")
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down MCP server...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("MCP server failed")
		return
	}

	logger.Info("Cardiac risk MCP server stopped")
}
