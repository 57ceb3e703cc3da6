package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/foldmarkets/settld/internal/domain"
	"github.com/foldmarkets/settld/internal/server/handler"
	"github.com/foldmarkets/settld/internal/server/middleware"
	"github.com/foldmarkets/settld/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port int

	// RateLimit is the per-caller request budget per RateWindow. Zero
	// disables rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Orders   *handler.OrderHandler
	Accounts *handler.AccountHandler
}

// Server is the HTTP + WebSocket API surface of the settlement engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter may be nil
// when rate limiting is disabled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Liveness probe sits outside the api prefix and skips the limiter.
	mux.HandleFunc("GET /healthz", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/v1/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/v1/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/v1/markets/{id}/trades", handlers.Markets.ListTrades)
	mux.HandleFunc("POST /api/v1/markets/{id}/redeem", handlers.Markets.Redeem)

	mux.HandleFunc("POST /api/v1/orders", handlers.Orders.PlaceOrder)
	mux.HandleFunc("DELETE /api/v1/orders/{id}", handlers.Orders.CancelOrder)

	mux.HandleFunc("GET /api/v1/accounts/{id}", handlers.Accounts.GetAccount)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux

	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	h = middleware.Logging(logger)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Handler exposes the assembled handler chain for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
