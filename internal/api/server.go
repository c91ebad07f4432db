// Package api is the HTTP surface of the arbitrage service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cex-arbitrage-go/internal/config"
	"cex-arbitrage-go/internal/detector"
	"cex-arbitrage-go/internal/ledger"
	"cex-arbitrage-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Executor runs one arbitrage attempt and always returns a structured result.
type Executor interface {
	Execute(ctx context.Context, req models.ExecutionRequest) models.ExecutionResult
	ExecuteFunding(ctx context.Context, req models.FundingRequest) models.ExecutionResult
}

// OpportunityFeed is the detector's read side.
type OpportunityFeed interface {
	Latest() ([]models.Opportunity, time.Time)
	Trigger()
	State() detector.State
}

// Deps are the components behind the routes. Feed and Metrics may be nil.
type Deps struct {
	Executor Executor
	Feed     OpportunityFeed
	Store    ledger.Store
	Metrics  http.Handler
}

// APIServer provides an HTTP interface for the orchestrator, the detector and the ledger.
type APIServer struct {
	server *http.Server
	deps   Deps
	mode   models.Mode
	logger *zap.Logger

	UUID      string
	StartTime time.Time
	now       func() time.Time
}

// NewAPIServer creates a new APIServer.
func NewAPIServer(cfg config.Server, metricsPath string, mode models.Mode, deps Deps, logger *zap.Logger) *APIServer {
	s := &APIServer{
		deps:      deps,
		mode:      mode,
		logger:    logger.Named("api-server"),
		UUID:      uuid.NewString(),
		StartTime: time.Now(),
		now:       time.Now,
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.routes(metricsPath),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) routes(metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /status", s.statusHandler)

	mux.HandleFunc("POST /api/execute", s.executeHandler)
	mux.HandleFunc("POST /api/execute/funding", s.executeFundingHandler)

	mux.HandleFunc("GET /api/opportunities", s.opportunitiesHandler)
	mux.HandleFunc("POST /api/opportunities/refresh", s.refreshHandler)

	mux.HandleFunc("GET /api/trades", s.tradesHandler)
	mux.HandleFunc("GET /api/statistics", s.statisticsHandler)

	if s.deps.Metrics != nil && metricsPath != "" {
		mux.Handle("GET "+metricsPath, s.deps.Metrics)
	}
	return s.logRequests(mux)
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server, letting in-flight executions finish until ctx expires.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *APIServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
