// Package mcp provides the MCP server implementation.
// This file contains the lightweight server that requires no external services.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/cardio-risk-server/internal/cache"
	litecfg "github.com/cardio-risk-server/internal/config"
	"github.com/cardio-risk-server/internal/domain"
	"github.com/cardio-risk-server/internal/mcp/tools"
	"github.com/cardio-risk-server/internal/modelstore"
	"github.com/cardio-risk-server/internal/repository"
	"github.com/cardio-risk-server/internal/service"
)

const (
	liteServerName    = "cardio-risk-mcp-lite"
	liteServerVersion = "v0.1.0"
)

// LiteServer is a lightweight MCP server that requires no external services.
// It keeps patients and assessments in SQLite and timelines in an in-process cache.
type LiteServer struct {
	config       *litecfg.LiteConfig
	mcpServer    *mcp.Server
	toolRegistry *tools.ToolRegistry
	store        domain.Store
	cache        *cache.TimelineCache
	publisher    domain.EventPublisher
	model        service.RiskModel
	logger       *logrus.Logger
	name         string
	version      string
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithStore sets a custom record store.
func WithStore(store domain.Store) LiteServerOption {
	return func(s *LiteServer) error {
		s.store = store
		return nil
	}
}

// WithModel sets the risk model instead of loading the configured artifact.
func WithModel(model service.RiskModel) LiteServerOption {
	return func(s *LiteServer) error {
		s.model = model
		return nil
	}
}

// WithTimelineCache replaces the in-process timeline cache.
func WithTimelineCache(c *cache.TimelineCache) LiteServerOption {
	return func(s *LiteServer) error {
		s.cache = c
		return nil
	}
}

// WithEventPublisher publishes assessment and patient events.
func WithEventPublisher(p domain.EventPublisher) LiteServerOption {
	return func(s *LiteServer) error {
		s.publisher = p
		return nil
	}
}

// WithImplementation overrides the advertised server name and version.
func WithImplementation(name, version string) LiteServerOption {
	return func(s *LiteServer) error {
		if name == "" || version == "" {
			return fmt.Errorf("server name and version are required")
		}
		s.name = name
		s.version = version
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(s *LiteServer) error {
		s.logger = logger
		return nil
	}
}

// NewLiteServer creates a new lightweight MCP server instance.
// The model artifact is loaded once; a missing or invalid artifact fails construction.
func NewLiteServer(ctx context.Context, cfg *litecfg.LiteConfig, opts ...LiteServerOption) (*LiteServer, error) {
	server := &LiteServer{
		config:  cfg,
		logger:  logrus.New(),
		name:    liteServerName,
		version: liteServerVersion,
	}

	// Configure default logger
	if cfg.LogFormat == "text" {
		server.logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		server.logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		server.logger.SetLevel(level)
	}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if server.model == nil {
		model, err := modelstore.Load(ctx, domain.ModelConfig{ArtifactURI: cfg.ModelURI}, server.logger)
		if err != nil {
			return nil, err
		}
		server.model = model
	}

	if server.store == nil {
		store, err := repository.NewSQLiteStore(cfg.StoreDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create record store: %w", err)
		}
		server.store = store
	}

	if server.cache == nil {
		server.cache = cache.NewWithClient(domain.CacheConfig{
			MemoryItems: cfg.CacheMaxItems,
			MemoryTTL:   cfg.CacheTTL,
		}, nil, server.logger)
	}

	assessmentOpts := []service.AssessmentOption{
		service.WithStore(server.store),
		service.WithTimelineCache(server.cache),
	}
	if server.publisher != nil {
		assessmentOpts = append(assessmentOpts, service.WithEventPublisher(server.publisher))
	}

	services := tools.Services{
		Assessments: service.NewAssessmentService(server.logger, server.model, assessmentOpts...),
		Patients:    service.NewPatientService(server.logger, server.store, server.cache, server.publisher),
		Exporter:    service.NewRetrainingExporter(server.logger, server.store),
		HospitalID:  cfg.HospitalID,
		ExportDir:   cfg.ExportDir(),
	}

	server.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    server.name,
		Version: server.version,
	}, nil)
	server.toolRegistry = tools.NewToolRegistry(server.logger, services)
	server.toolRegistry.RegisterAllTools(server.mcpServer)

	server.logger.WithFields(logrus.Fields{
		"data_dir":    cfg.DataDir,
		"hospital_id": cfg.HospitalID,
	}).Info("Lite server initialized successfully")
	return server, nil
}

// Start serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *LiteServer) Start(ctx context.Context) error {
	s.logger.Info("Starting cardiac risk MCP server (lite) on stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Connect serves one session over the given transport.
func (s *LiteServer) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcpServer.Connect(ctx, transport, nil)
}

// ToolNames lists the registered tools.
func (s *LiteServer) ToolNames() []string {
	return s.toolRegistry.ToolNames()
}

// Close cleans up server resources.
func (s *LiteServer) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close record store")
			return err
		}
	}
	return nil
}
