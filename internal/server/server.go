package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/muurk/vtobridge/internal/engine"
	"github.com/muurk/vtobridge/internal/integration"
	"github.com/muurk/vtobridge/internal/logging"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Controller is the engine surface the API needs
type Controller interface {
	engine.Commander
	Snapshot(ctx context.Context) (engine.Snapshot, error)
}

// Config holds the server configuration
type Config struct {
	Listen string
}

// Server is the HTTP status, command and WebSocket event API
type Server struct {
	config  Config
	control Controller
	tracker *integration.Tracker
	hub     *Hub
	router  chi.Router
	http    *http.Server
	wg      sync.WaitGroup
}

// New creates a server. The hub must also be registered as a publisher on
// the engine's sink so WebSocket clients receive events.
func New(config Config, control Controller, tracker *integration.Tracker, hub *Hub) *Server {
	s := &Server{
		config:  config,
		control: control,
		tracker: tracker,
		hub:     hub,
		router:  chi.NewRouter(),
	}
	s.setupRoutes()

	s.http = &http.Server{
		Addr:              config.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logging.Info("Starting HTTP API", zap.String("addr", ln.Addr().String()))

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(hubCtx)
	}()

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.http.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		logging.Info("Shutting down HTTP API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			logging.Warn("HTTP shutdown incomplete", zap.Error(err))
		}
		stopHub()
		s.wg.Wait()
		return nil

	case err := <-errChan:
		stopHub()
		s.wg.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server failed: %w", err)
	}
}
