package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/app"
	"github.com/ternarybob/prospector/internal/common"
	"github.com/ternarybob/prospector/internal/handlers"
)

// Handlers groups the HTTP handlers the router dispatches to
type Handlers struct {
	API  *handlers.APIHandler
	Jobs *handlers.JobHandler
	Auth *handlers.AuthHandler
	WS   *handlers.WebSocketHandler
}

// Server manages the HTTP server and routes
type Server struct {
	config   common.ServerConfig
	logger   arbor.ILogger
	handlers Handlers
	router   *http.ServeMux
	server   *http.Server
}

// New creates a new HTTP server with the given app
func New(application *app.App) *Server {
	return newServer(application.Config.Server, application.Logger, Handlers{
		API:  application.APIHandler,
		Jobs: application.JobHandler,
		Auth: application.AuthHandler,
		WS:   application.WSHandler,
	})
}

func newServer(config common.ServerConfig, logger arbor.ILogger, h Handlers) *Server {
	s := &Server{
		config:   config,
		logger:   logger,
		handlers: h,
	}

	s.router = s.setupRoutes()

	// No write timeout: websocket connections are long-lived
	s.server = &http.Server{
		Addr:              s.address(),
		Handler:           s.withConditionalMiddleware(s.router),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

func (s *Server) address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Handler returns the fully wrapped router
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server and blocks until it is shut down
func (s *Server) Start() error {
	s.logger.Info().
		Str("address", s.address()).
		Msg("HTTP server starting")

	s.logger.Info().Msg("Install the cookie capture extension and click its icon while logged in")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}
