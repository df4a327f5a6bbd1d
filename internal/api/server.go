package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cardio-risk-server/internal/database"
	"github.com/cardio-risk-server/internal/domain"
	"github.com/cardio-risk-server/internal/middleware"
	"github.com/cardio-risk-server/internal/service"
)

const shutdownTimeout = 30 * time.Second

// HealthChecker is a dependency that can report its reachability
type HealthChecker interface {
	Health(ctx context.Context) error
}

// PoolReporter exposes database pool usage
type PoolReporter interface {
	Stats() database.PoolStats
}

// BreakerReporter exposes the state of a circuit breaker
type BreakerReporter interface {
	BreakerState() string
}

// Dependencies are the services behind the HTTP routes
type Dependencies struct {
	Assessments  *service.AssessmentService
	Patients     *service.PatientService
	Store        HealthChecker
	Cache        BreakerReporter
	Pool         PoolReporter
	ModelVersion string
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	logger        *logrus.Logger
	deps          Dependencies
	router        *gin.Engine
	server        *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, logger *logrus.Logger, deps Dependencies) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(corsMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))

	server := &Server{
		configManager: configManager,
		logger:        logger,
		deps:          deps,
		router:        router,
	}
	server.setupRoutes()
	return server
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithFields(logrus.Fields{"addr": addr, "tls": cfg.TLSEnabled}).Info("HTTP server listening")
		var err error
		if cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	cfg := s.configManager.GetConfig()

	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.Authenticate(cfg.Auth))
	v1.Use(middleware.RateLimit(cfg.RateLimit))
	{
		v1.POST("/predict", s.handlePredict)

		v1.POST("/patients", s.handleCreatePatient)
		v1.GET("/patients", s.handleListPatients)
		v1.GET("/patients/search", s.handleSearchPatients)
		v1.GET("/patients/duplicate-check", s.handleDuplicateCheck)
		v1.GET("/patients/:id", s.handleGetPatient)
		v1.PATCH("/patients/:id", s.handleUpdatePatient)
		v1.DELETE("/patients/:id", s.handleDeletePatient)
		v1.POST("/patients/:id/outcome", s.handleSetOutcome)
		v1.GET("/patients/:id/timeline", s.handleTimeline)

		v1.POST("/patients/:id/records/:record_id/notes", s.handleAddNote)
		v1.PUT("/patients/:id/records/:record_id/notes", s.handleEditNote)
		v1.GET("/patients/:id/records/:record_id/notes", s.handleGetNote)

		v1.GET("/dashboard/analytics", s.handleDashboard)
	}
}

// handleHealth reports store, cache and model state
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":        "healthy",
		"timestamp":     time.Now().UTC(),
		"model_version": s.deps.ModelVersion,
	}

	if s.deps.Store != nil {
		if err := s.deps.Store.Health(c.Request.Context()); err != nil {
			s.logger.WithError(err).Warn("Store health check failed")
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["store"] = "unreachable"
		} else {
			body["store"] = "ok"
		}
	}
	if s.deps.Cache != nil {
		body["cache_breaker"] = s.deps.Cache.BreakerState()
	}
	if s.deps.Pool != nil {
		body["db_pool"] = s.deps.Pool.Stats()
	}
	c.JSON(status, body)
}

// corsMiddleware allows the configured origins; an empty list allows none
func corsMiddleware(allowed []string) gin.HandlerFunc {
	origins := make(map[string]bool, len(allowed))
	wildcard := false
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
		origins[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (wildcard || origins[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Correlation-ID, X-Hospital-ID")
			c.Header("Access-Control-Expose-Headers", "X-Correlation-ID")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
