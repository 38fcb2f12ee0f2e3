package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/easybet/internal/domain"
	"github.com/alanyoungcy/easybet/internal/server/handler"
	"github.com/alanyoungcy/easybet/internal/server/middleware"
	"github.com/alanyoungcy/easybet/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	RateLimit  int
	RateWindow time.Duration

	SignatureWindow   time.Duration
	TrustCallerHeader bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Activities *handler.ActivityHandler
	Tickets    *handler.TicketHandler
	Accounts   *handler.AccountHandler
	Events     *handler.EventHandler
}

// Server is the HTTP + WebSocket API in front of the ledger.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
// hub and limiter may be nil (local mode).
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}

	a := handlers.Activities
	mux.HandleFunc("GET /api/activities", a.ListActivities)
	mux.HandleFunc("POST /api/activities", a.CreateActivity)
	mux.HandleFunc("GET /api/activities/{id}", a.GetActivity)
	mux.HandleFunc("POST /api/activities/{id}/resolve", a.ResolveActivity)
	mux.HandleFunc("POST /api/activities/{id}/end-betting", a.EndBetting)
	mux.HandleFunc("POST /api/activities/{id}/bets", a.PlaceBet)
	mux.HandleFunc("POST /api/activities/{id}/claim", a.ClaimAll)
	mux.HandleFunc("GET /api/activities/{id}/orderbook", a.OrderBook)
	mux.HandleFunc("GET /api/activities/{id}/tickets", a.TicketsOf)

	t := handlers.Tickets
	mux.HandleFunc("GET /api/tickets/{id}", t.GetTicket)
	mux.HandleFunc("GET /api/tickets/{id}/quote", t.Quote)
	mux.HandleFunc("POST /api/tickets/{id}/claim", t.Claim)
	mux.HandleFunc("POST /api/tickets/{id}/approve", t.Approve)
	mux.HandleFunc("POST /api/tickets/{id}/listing", t.List)
	mux.HandleFunc("DELETE /api/tickets/{id}/listing", t.Delist)
	mux.HandleFunc("POST /api/tickets/{id}/buy", t.Buy)

	acc := handlers.Accounts
	mux.HandleFunc("GET /api/balances/{address}", acc.Balance)
	mux.HandleFunc("POST /api/faucet/claim", acc.ClaimFaucet)
	mux.HandleFunc("POST /api/faucet/mint", acc.Mint)
	mux.HandleFunc("POST /api/allowances", acc.SetAllowance)

	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	// Innermost first: identity runs last, CORS first.
	var h http.Handler = mux
	h = middleware.Identity(middleware.IdentityConfig{
		Window: cfg.SignatureWindow,
		Trust:  cfg.TrustCallerHeader,
	})(h)
	h = middleware.APIKey(cfg.APIKey, "/api/health")(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
