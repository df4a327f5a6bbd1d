package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/cardio-risk-server/internal/api"
	"github.com/cardio-risk-server/internal/cache"
	"github.com/cardio-risk-server/internal/config"
	"github.com/cardio-risk-server/internal/database"
	"github.com/cardio-risk-server/internal/domain"
	"github.com/cardio-risk-server/internal/events"
	"github.com/cardio-risk-server/internal/logging"
	"github.com/cardio-risk-server/internal/modelstore"
	"github.com/cardio-risk-server/internal/repository"
	"github.com/cardio-risk-server/internal/service"
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
	logger := logging.New(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host":        cfg.Server.Host,
		"port":        cfg.Server.Port,
		"environment": cfg.Environment,
	}).Info("Starting cardiac risk server")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The model is loaded once; the server never starts without it
	model, err := modelstore.Load(ctx, cfg.Model, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load risk model")
	}

	if cfg.Database.MigrationsPath != "" {
		runner, err := database.NewMigrationRunner(configManager.GetDatabaseURL(), cfg.Database.MigrationsPath, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create migration runner")
		}
		if err := runner.Up(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to run migrations")
		}
		runner.Close()
	}

	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()
	store := repository.NewPostgresStore(db.Pool, logger)

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

	assessmentOpts := []service.AssessmentOption{
		service.WithStore(store),
		service.WithTimelineCache(timelines),
		service.WithEventPublisher(publisher),
	}
	if cfg.Events.MQTT.Enabled {
		devices, err := events.ConnectDeviceECG(cfg.Events.MQTT, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to device ECG broker")
		}
		defer devices.Close()
		assessmentOpts = append(assessmentOpts, service.WithDeviceECG(devices))
	}

	server := api.NewServer(configManager, logger, api.Dependencies{
		Assessments:  service.NewAssessmentService(logger, model, assessmentOpts...),
		Patients:     service.NewPatientService(logger, store, timelines, publisher),
		Store:        store,
		Cache:        timelines,
		Pool:         db,
		ModelVersion: model.Version(),
	})

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server failed")
		return
	}

	logger.Info("Server stopped")
}
