package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"persistenceai/internal/app/health"
	"persistenceai/internal/app/middleware"
	"persistenceai/internal/app/routes"
	"persistenceai/internal/cfg"
	"persistenceai/internal/service/session"
	"persistenceai/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Server is the HTTP server that handles all incoming requests.
// It acts as the transport layer, delegating all business logic to the service layer.
type Server struct {
	config     *cfg.Config
	provider   *Provider
	httpServer *http.Server
	router     *gin.Engine
	logger     logger.Logger
}

// NewServer creates a new HTTP server with all dependencies provided by the Provider.
func NewServer(provider *Provider) (*Server, error) {
	s := &Server{
		config:   provider.Config,
		provider: provider,
		logger:   provider.Infra.Logger,
	}

	s.logger.Info(context.Background(), "Creating HTTP server...")

	if provider.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.setupRoutes()
	s.setupHTTPServer()

	s.logger.Info(context.Background(), "HTTP server created successfully")
	return s, nil
}

// setupRoutes configures all HTTP routes for the application.
func (s *Server) setupRoutes() {
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(s.config.Observability.ServiceName))
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggingMiddleware(s.logger))

	// Health and infrastructure routes
	routes.SetupInfra(r, s.healthChecker(), s.provider.Infra.MetricsHandler)

	// Session routes
	sessionHandler := session.NewHandler(s.provider.Services.Sessions, s.logger)
	routes.SetupSessions(r, sessionHandler)

	s.router = r
}

// healthChecker only probes backends that can be pinged: the redis lock
// table and the Kafka publisher.
func (s *Server) healthChecker() *health.Checker {
	infra := s.provider.Infra

	var locks, evs health.PingChecker
	if p, ok := infra.Locks.(health.PingChecker); ok {
		locks = p
	}
	if p, ok := infra.Events.(health.PingChecker); ok {
		evs = p
	}

	var reg health.RegistryChecker
	if infra.Registry != nil {
		reg = infra.Registry
	}
	return health.NewChecker(reg, locks, evs, s.logger)
}

// setupHTTPServer creates the underlying HTTP server.
func (s *Server) setupHTTPServer() {
	s.httpServer = &http.Server{
		Addr:         s.config.HTTPServer.ListenAddress,
		Handler:      s.router,
		ReadTimeout:  s.config.HTTPServer.ReadTimeout,
		WriteTimeout: s.config.HTTPServer.WriteTimeout,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the reaper and the HTTP server and blocks until the server
// shuts down.
func (s *Server) Run(ctx context.Context) error {
	if reaper := s.provider.Services.Reaper; reaper != nil {
		reaper.Start(ctx)
	}

	s.logger.Info(ctx, "HTTP server listening",
		logger.Field{Key: "addr", Value: s.config.HTTPServer.ListenAddress})

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// Shutdown stops accepting requests, drains in-flight ones and stops the
// reaper. Infrastructure resources are managed separately by the Provider.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "Shutting down HTTP server")

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}
	}

	if s.provider != nil && s.provider.Services != nil && s.provider.Services.Reaper != nil {
		s.provider.Services.Reaper.Stop()
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info(ctx, "HTTP server shutdown complete")
	return nil
}
