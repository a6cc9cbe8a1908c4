package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"courseframework/internal/host"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Config holds the HTTP server settings.
type Config struct {
	Addr      string
	JWTSecret string
}

// Server provides HTTP API endpoints for the course framework host
type Server struct {
	host   *host.Host
	logger *zap.Logger
	tokens *Tokens
	echo   *echo.Echo
	addr   string
}

// NewServer creates a new API server
func NewServer(h *host.Host, logger *zap.Logger, cfg Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		host:   h,
		logger: logger.Named("api"),
		tokens: NewTokens(cfg.JWTSecret),
		addr:   cfg.Addr,
	}
	if cfg.JWTSecret == "" {
		s.logger.Warn("No JWT secret configured; every request is anonymous")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.IdleTimeout = 60 * time.Second
	e.Use(middleware.Recover())
	e.Use(authMiddleware(s.tokens, s.logger))

	e.GET("/", s.handleSitemap)
	e.GET("/health", s.handleHealth)

	g := e.Group("/api")
	g.GET("/plugins", s.handlePlugins)
	g.GET("/components/:name", s.handleGetComponent)
	g.GET("/theme", s.handleGetTheme)
	g.PUT("/theme", s.handleSetTheme)
	g.PUT("/tenants/:tenant/ui", s.handleRegisterTenantUI)
	g.DELETE("/tenants/:tenant/ui", s.handleRevokeTenantUI)
	g.GET("/audit", s.handleAudit)
	g.POST("/events", s.handleDispatch)

	e.GET("/ws/events", s.handleEventStream)

	s.echo = e
	return s
}

// Tokens returns the token signer the server verifies requests with.
func (s *Server) Tokens() *Tokens {
	return s.tokens
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.addr))

	go func() {
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
