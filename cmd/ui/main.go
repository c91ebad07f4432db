package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"cex-arbitrage-go/internal/config"
	"cex-arbitrage-go/internal/logger"
	"cex-arbitrage-go/internal/trader"

	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Open the same ledger the trader writes to
	store, closeStore, err := trader.NewLedger(context.Background(), cfg.Database)
	if err != nil {
		log.Fatal("Failed to open ledger", zap.Error(err))
	}
	defer closeStore()

	// Setup HTTP server
	mux := http.NewServeMux()

	// Create a handler that has access to the logger and the ledger
	apiHandler := NewAPIHandler(log, store)

	// API endpoints
	mux.HandleFunc("GET /api/trades", apiHandler.TradesHandler)
	mux.HandleFunc("GET /api/statistics", apiHandler.StatisticsHandler)

	// The dashboard listens one port above the trader API
	addr := fmt.Sprintf(":%d", cfg.Server.Port+1)
	log.Info("Starting web server", zap.String("address", addr))

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal("Web server failed", zap.Error(err))
	}
}
