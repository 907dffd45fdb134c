// Package http exposes the lifecycle orchestrator over a thin JSON API.
// Actor identity is resolved upstream and arrives in request headers.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/procurement-lifecycle/internal/application/workflow"
	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/permission"
	"github.com/garyjia/procurement-lifecycle/internal/domain/registry"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// HistoryWriter renders a document's history as a spreadsheet
type HistoryWriter interface {
	Write(w io.Writer, e *entity.Entity, records []*entity.TransitionRecord) error
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MetricsPath     string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MetricsPath:     "/metrics",
	}
}

// Dependencies are the collaborators the handlers call into
type Dependencies struct {
	Orchestrator workflow.Orchestrator
	Registry     *registry.Registry
	Gate         *permission.Gate
	Exporter     HistoryWriter
	// Metrics is mounted at ServerConfig.MetricsPath when set
	Metrics http.Handler
	// Health reports storage reachability; nil means always healthy
	Health func(ctx context.Context) error
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	deps       Dependencies
	logger     Logger
}

// NewServer creates a new HTTP server
func NewServer(config ServerConfig, deps Dependencies, logger Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config: config,
		router: gin.New(),
		deps:   deps,
		logger: logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
			"actor_id", c.GetHeader(HeaderActorID),
		)
	}
}

func (s *Server) setupRoutes() {
	h := NewHandlers(s.deps, s.logger)

	s.router.GET("/health", h.HealthCheck)
	if s.deps.Metrics != nil {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, gin.WrapH(s.deps.Metrics))
	}

	api := s.router.Group("/api/v1")
	{
		api.GET("/registry/:type", h.GetRegistry)
		api.GET("/budgets/:id", h.GetBudget)

		entities := api.Group("/entities/:id")
		{
			entities.GET("", h.GetEntity)
			entities.GET("/status", h.GetStatus)
			entities.GET("/transitions", h.ListTransitions)
			entities.POST("/transitions", requireActor(), h.RequestTransition)
			entities.GET("/history", h.GetHistory)
			entities.GET("/history.xlsx", h.ExportHistory)
		}

		api.POST("/goods-receipts/:id/invoices", requireActor(), h.DeriveInvoice)
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
