package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/oracle"
)

// Oracle is the public query surface of the engine
type Oracle interface {
	Pay(ctx context.Context, table, raw string) (*oracle.Result, error)
	Info(ctx context.Context, table string) (*models.HandView, error)
	Show(ctx context.Context, table, raw string, cards []int) (*oracle.Result, error)
	Leave(ctx context.Context, table, raw string) (*oracle.Result, error)
	Netting(ctx context.Context, table string, handID uint64, sig string) error
	Timeout(ctx context.Context, table string) (*oracle.Result, error)
	GetHand(ctx context.Context, table string, handID uint64) (*models.HandView, error)
	HandleMessage(ctx context.Context, raw string) error
}

// Reservations is the seat reservation service
type Reservations interface {
	Reserve(ctx context.Context, table string, pos int, signer, txHash string, amount int64) (*models.Reservation, error)
	List(ctx context.Context, table string) ([]models.Reservation, error)
	Cleanup(ctx context.Context, timeout time.Duration) ([]models.Reservation, error)
}

// Subscriptions upgrades a request to a table's real-time channel
type Subscriptions interface {
	ServeWS(w http.ResponseWriter, r *http.Request, table string)
}

// Pinger reports database health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators served over HTTP
type Deps struct {
	Oracle             Oracle
	Reservations       Reservations
	Subscriptions      Subscriptions
	Database           Pinger
	RPC                Pinger
	ReservationTimeout time.Duration
}

// Server represents the HTTP API server
// Provides the oracle endpoints, the real-time channel, Prometheus metrics and health checks
type Server struct {
	httpServer *http.Server
	router     chi.Router
	deps       Deps
	port       int
}

// NewServer creates a new API server instance
func NewServer(port int, deps Deps) *Server {
	router := chi.NewRouter()

	s := &Server{
		httpServer: &http.Server{
			Addr:        fmt.Sprintf(":%d", port),
			Handler:     router,
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
		router: router,
		deps:   deps,
		port:   port,
	}

	// Register all HTTP routes
	s.registerRoutes()

	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// registerRoutes sets up all HTTP routes
func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Core endpoints
	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.handleMetrics())

	r.Post("/messages", s.handleMessage)
	r.Post("/reservations/cleanup", s.handleCleanup)

	r.Route("/tables/{table}", func(r chi.Router) {
		r.Post("/pay", s.handlePay)
		r.Get("/info", s.handleInfo)
		r.Post("/show", s.handleShow)
		r.Post("/leave", s.handleLeave)
		r.Post("/timeout", s.handleTimeout)
		r.Get("/hands/{handId}", s.handleGetHand)
		r.Post("/hands/{handId}/netting", s.handleNetting)
		r.Get("/ws", s.handleSubscribe)
		r.Get("/reservations", s.handleListReservations)
		r.Post("/seats/{pos}/reserve", s.handleReserve)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Endpoint not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
}

// Start starts the HTTP server in a goroutine
// Returns immediately after starting the server
func (s *Server) Start() error {
	go func() {
		slog.Info("API server starting",
			"port", s.port,
			"endpoints", []string{"/", "/health", "/metrics", "/tables/{table}/..."},
		)

		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the HTTP server
// Waits for active connections to close or context to timeout
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("API server shutting down...")
	return s.httpServer.Shutdown(ctx)
}
