// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/ratelimit"
	"github.com/chain-ledger/internal/tax"
	"github.com/chain-ledger/internal/types"
	"github.com/chain-ledger/internal/worker"
)

// TransactionStore is the query surface the API needs from storage.
type TransactionStore interface {
	GetForAddress(ctx context.Context, address string, filter types.TransactionFilter) ([]*types.UnifiedTransaction, error)
}

// ReportGenerator builds wallet-year tax reports.
type ReportGenerator interface {
	GenerateReport(ctx context.Context, req tax.ReportRequest) (*tax.TaxReport, error)
}

// WalletSyncer runs an on-demand wallet sync.
type WalletSyncer interface {
	SyncWallet(ctx context.Context, ws worker.WalletSync) (*worker.SyncResult, error)
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	store      TransactionStore
	reports    ReportGenerator
	syncer     WalletSyncer
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// RateLimitPerSecond bounds requests per client IP. Zero disables
	// limiting.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, store TransactionStore, reports ReportGenerator, syncer WalletSyncer) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		store:   store,
		reports: reports,
		syncer:  syncer,
		config:  config,
		logger:  logging.WithField("component", "api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	if s.config.RateLimitPerSecond > 0 {
		limiter := ratelimit.NewLimiter(s.config.RateLimitPerSecond, s.config.RateLimitBurst)
		s.router.Use(limiter.Middleware)
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/transactions/{address}", s.handleGetTransactions).Methods("GET")
	api.HandleFunc("/reports/{walletId}/{year}", s.handleGetReport).Methods("GET")
	api.HandleFunc("/sync", s.handleSync).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "chain-ledger",
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
