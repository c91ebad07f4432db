package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cex-arbitrage-go/internal/config"
	"cex-arbitrage-go/internal/logger"
	"cex-arbitrage-go/internal/trader"

	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded", zap.String("mode", cfg.Mode), zap.String("ledger", cfg.Database.Driver))

	// Setup context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := trader.NewEngine(ctx, log, &cfg)
	if err != nil {
		log.Fatal("Failed to initialize engine", zap.Error(err))
	}

	engine.Run(ctx)
	log.Info("Service has been shut down.")
}
