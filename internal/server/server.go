package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/creatormarket/internal/domain"
	"github.com/alanyoungcy/creatormarket/internal/observability"
	"github.com/alanyoungcy/creatormarket/internal/server/handler"
	"github.com/alanyoungcy/creatormarket/internal/server/middleware"
	"github.com/alanyoungcy/creatormarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigins []string
	// RateLimit is the number of requests a client may make per
	// RateWindow. Zero disables rate limiting.
	RateLimit  int
	RateWindow time.Duration
	// TrustCallerHeader accepts middleware.CallerHeader without a token.
	// Local development only.
	TrustCallerHeader bool
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Status      *handler.StatusHandler
	Creators    *handler.CreatorHandler
	Trading     *handler.TradingHandler
	Predictions *handler.PredictionHandler
	Events      *handler.EventHandler
	Pipeline    *handler.PipelineHandler
}

// Deps are the cross-cutting collaborators of the middleware chain. Limiter
// and Metrics may be nil.
type Deps struct {
	Verifier middleware.TokenVerifier
	Limiter  domain.RateLimiter
	Metrics  *observability.Metrics
	Hub      *ws.Hub
}

// Server is the HTTP + WebSocket API of the creator market engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	registerRoutes(mux, handlers)

	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	var obs middleware.Observer
	var onLimited func()
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
		obs = deps.Metrics
		onLimited = deps.Metrics.RateLimited.Inc
	}

	// Build the middleware chain, innermost first. Logging sits inside Auth
	// so it sees the caller and the mux-matched route pattern.
	var h http.Handler = mux
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger, onLimited)(h)
	}
	h = middleware.Logging(logger, obs)(h)
	h = middleware.Auth(deps.Verifier, cfg.TrustCallerHeader)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

func registerRoutes(mux *http.ServeMux, h Handlers) {
	// Health and status (no auth required).
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)
	mux.HandleFunc("GET /api/events", h.Events.List)

	// Registry.
	mux.HandleFunc("POST /api/creators", h.Creators.Register)
	mux.HandleFunc("GET /api/creators/{address}", h.Creators.GetCreator)
	mux.HandleFunc("POST /api/creators/{address}/ban", h.Creators.Ban)
	mux.HandleFunc("DELETE /api/creators/{address}/ban", h.Creators.Unban)
	mux.HandleFunc("PUT /api/admin/operators/{address}", h.Creators.SetOperator)
	mux.HandleFunc("PUT /api/admin/adjudicators/{address}", h.Creators.SetAdjudicator)

	// Creator ledgers.
	mux.HandleFunc("GET /api/ledgers", h.Creators.ListLedgers)
	mux.HandleFunc("GET /api/ledgers/{address}", h.Creators.GetLedger)
	mux.HandleFunc("PUT /api/ledgers/{address}/price", h.Creators.SetPrice)
	mux.HandleFunc("PUT /api/ledgers/{address}/price-interval", h.Creators.SetPriceInterval)
	mux.HandleFunc("GET /api/ledgers/{address}/price-status", h.Creators.PriceStatus)
	mux.HandleFunc("GET /api/ledgers/{address}/balances/{account}", h.Creators.Balance)
	mux.HandleFunc("GET /api/ledgers/{address}/allowances/{owner}/{spender}", h.Creators.Allowance)
	mux.HandleFunc("POST /api/ledgers/{address}/transfer", h.Creators.Transfer)
	mux.HandleFunc("POST /api/ledgers/{address}/approve", h.Creators.Approve)
	mux.HandleFunc("POST /api/ledgers/{address}/transfer-from", h.Creators.TransferFrom)
	mux.HandleFunc("POST /api/ledgers/operators", h.Creators.GrantOperator)
	mux.HandleFunc("DELETE /api/ledgers/operators/{address}", h.Creators.RevokeOperator)
	mux.HandleFunc("GET /api/ledgers/{address}/operators/{operator}", h.Creators.Capability)

	// Exchange.
	mux.HandleFunc("GET /api/exchange", h.Trading.Status)
	mux.HandleFunc("GET /api/exchange/quote/buy", h.Trading.QuoteBuy)
	mux.HandleFunc("GET /api/exchange/quote/sell", h.Trading.QuoteSell)
	mux.HandleFunc("POST /api/exchange/buy", h.Trading.Buy)
	mux.HandleFunc("POST /api/exchange/sell", h.Trading.Sell)
	mux.HandleFunc("PUT /api/exchange/fee", h.Trading.SetFee)
	mux.HandleFunc("POST /api/exchange/withdraw-fees", h.Trading.WithdrawFees)
	mux.HandleFunc("POST /api/exchange/emergency-withdraw", h.Trading.EmergencyWithdraw)
	mux.HandleFunc("POST /api/exchange/deposit", h.Trading.DepositLiquidity)

	// Native currency.
	mux.HandleFunc("GET /api/native/{account}", h.Trading.NativeBalance)
	mux.HandleFunc("POST /api/native/deposit", h.Trading.NativeDeposit)
	mux.HandleFunc("POST /api/native/transfer", h.Trading.NativeTransfer)

	// Prediction market.
	mux.HandleFunc("GET /api/predictions", h.Predictions.List)
	mux.HandleFunc("POST /api/predictions", h.Predictions.Create)
	mux.HandleFunc("GET /api/predictions/{id}", h.Predictions.Get)
	mux.HandleFunc("POST /api/predictions/{id}/close", h.Predictions.Close)
	mux.HandleFunc("POST /api/predictions/{id}/bets", h.Predictions.PlaceBet)
	mux.HandleFunc("GET /api/predictions/{id}/bets/{account}", h.Predictions.Bets)
	mux.HandleFunc("POST /api/predictions/{id}/resolve", h.Predictions.Resolve)
	mux.HandleFunc("POST /api/predictions/{id}/reports", h.Predictions.Report)
	mux.HandleFunc("GET /api/predictions/{id}/reports/{account}", h.Predictions.HasReported)
	mux.HandleFunc("POST /api/predictions/{id}/confirm", h.Predictions.Confirm)
	mux.HandleFunc("POST /api/predictions/{id}/fraud", h.Predictions.FlagFraud)
	mux.HandleFunc("POST /api/predictions/{id}/claims/reward", h.Predictions.ClaimReward)
	mux.HandleFunc("POST /api/predictions/{id}/claims/refund", h.Predictions.ClaimRefund)
	mux.HandleFunc("POST /api/predictions/{id}/claims/creator-fee", h.Predictions.ClaimCreatorFee)
	mux.HandleFunc("GET /api/predictions/{id}/rewards/{account}", h.Predictions.PendingReward)
	mux.HandleFunc("GET /api/market/settings", h.Predictions.Settings)
	mux.HandleFunc("PUT /api/market/cooldown", h.Predictions.SetCooldown)
	mux.HandleFunc("PUT /api/market/report-threshold", h.Predictions.SetThreshold)

	// Pipeline triggers.
	mux.HandleFunc("POST /api/admin/snapshots", h.Pipeline.TriggerSnapshot)
	mux.HandleFunc("POST /api/admin/archive", h.Pipeline.TriggerArchive)
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
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
