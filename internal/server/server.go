// Package server is the read-only dashboard API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
	"github.com/alanyoungcy/polyshadow/internal/server/handler"
	"github.com/alanyoungcy/polyshadow/internal/server/middleware"
	"github.com/alanyoungcy/polyshadow/internal/server/ws"
)

// Config holds the HTTP server settings.
type Config struct {
	Addr        string
	CORSOrigins []string
	APIKey      string // empty disables auth
	// RateLimit is requests per RateWindow per client IP; zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health    *handler.HealthHandler
	Summary   *handler.SummaryHandler
	Trades    *handler.TradeHandler
	Positions *handler.PositionHandler
	Markets   *handler.MarketHandler
	Orderbook *handler.OrderbookHandler
	PnL       *handler.PnLHandler
}

// Server is the HTTP and websocket front of the dashboard.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers the routes and wraps them in logging, CORS, auth and,
// when a limiter is given, rate limiting. hub may be nil.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           Routes(cfg, h, hub, limiter, logger),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the handler tree.
func Routes(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/summary", h.Summary.Summary)
	mux.HandleFunc("GET /api/latency", h.Summary.Latency)
	mux.HandleFunc("GET /api/wallets", h.Summary.ListWallets)

	mux.HandleFunc("GET /api/target-trades", h.Trades.ListTargetTrades)
	mux.HandleFunc("GET /api/paper-trades", h.Trades.ListPaperTrades)
	mux.HandleFunc("GET /api/snapshots/{id}", h.Trades.GetSnapshot)

	mux.HandleFunc("GET /api/positions", h.Positions.ListPositions)
	mux.HandleFunc("GET /api/pnl/categories", h.PnL.ByCategory)
	mux.HandleFunc("GET /api/pnl/timeline", h.PnL.Timeline)
	mux.HandleFunc("GET /api/markets", h.Markets.ListMarkets)
	mux.HandleFunc("GET /api/orderbook/{token}", h.Orderbook.GetOrderbook)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var out http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		out = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(out)
	}
	out = middleware.Auth(cfg.APIKey, "/api/health")(out)
	out = middleware.CORS(cfg.CORSOrigins)(out)
	out = middleware.Logging(logger)(out)
	return out
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
