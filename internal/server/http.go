package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/muurk/vtobridge/internal/engine"
	"github.com/muurk/vtobridge/internal/integration"
	"github.com/muurk/vtobridge/internal/logging"
	"go.uber.org/zap"
)

const apiTimeout = 10 * time.Second

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	Engine  engine.Snapshot   `json:"engine"`
	State   integration.State `json:"state"`
	Clients int               `json:"websocket_clients"`
}

// DoorResponse is the body of the door command endpoints
type DoorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(apiTimeout))
		r.Get("/status", s.handleStatus)
		r.Post("/door/open", s.handleDoor("open", s.control.OpenDoor))
		r.Post("/door/close", s.handleDoor("close", s.control.CloseDoor))
	})

	s.router.Get("/ws", s.handleWebSocket)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.control.Snapshot(r.Context())
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, DoorResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, StatusResponse{
		Engine:  snap,
		State:   s.tracker.State(),
		Clients: s.hub.ClientCount(),
	})
}

func (s *Server) handleDoor(name string, command func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := command(r.Context()); err != nil {
			status := doorErrorStatus(err)
			logging.Warn("Door command rejected",
				zap.String("command", name),
				zap.Int("status", status),
				zap.Error(err))
			respondJSON(w, status, DoorResponse{Status: "rejected", Error: err.Error()})
			return
		}
		logging.Info("Door command sent", zap.String("command", name), zap.String("remote_addr", r.RemoteAddr))
		respondJSON(w, http.StatusAccepted, DoorResponse{Status: "accepted"})
	}
}

func doorErrorStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrDoorOnHold):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNotConnected), errors.Is(err, engine.ErrDoorControlUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Failed to write response", zap.Error(err))
	}
}
