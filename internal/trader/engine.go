// Package trader assembles the arbitrage service from configuration and runs it.
package trader

import (
	"context"
	"strings"
	"time"

	"cex-arbitrage-go/internal/api"
	"cex-arbitrage-go/internal/balance"
	"cex-arbitrage-go/internal/config"
	"cex-arbitrage-go/internal/database"
	"cex-arbitrage-go/internal/detector"
	"cex-arbitrage-go/internal/exchange"
	"cex-arbitrage-go/internal/exchange/binance"
	"cex-arbitrage-go/internal/exchange/okx"
	"cex-arbitrage-go/internal/exchange/paper"
	"cex-arbitrage-go/internal/ledger"
	"cex-arbitrage-go/internal/lock"
	"cex-arbitrage-go/internal/metrics"
	"cex-arbitrage-go/internal/models"
	"cex-arbitrage-go/internal/orchestrator"
	"cex-arbitrage-go/internal/retry"
	"cex-arbitrage-go/internal/transfer"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// shutdownGrace bounds how long in-flight requests may keep running after a stop signal.
const shutdownGrace = 60 * time.Second

// Engine owns every long-lived component of the service.
type Engine struct {
	logger *zap.Logger
	cfg    *config.Config

	Metrics      *metrics.Metrics
	Live         *exchange.Registry
	Paper        *exchange.Registry
	Market       *paper.Market
	Detector     *detector.Detector
	Orchestrator *orchestrator.Orchestrator
	Store        ledger.Store
	Server       *api.APIServer

	closers []func()
}

// NewEngine creates the engine. Connections to the ledger and Redis are opened here.
func NewEngine(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Engine, error) {
	e := &Engine{
		logger:  logger.Named("engine"),
		cfg:     cfg,
		Metrics: metrics.New(),
	}

	binanceClient := binance.New(binance.Config{
		APIKey:         cfg.Exchanges.Binance.APIKey,
		SecretKey:      cfg.Exchanges.Binance.SecretKey,
		BaseURL:        cfg.Exchanges.Binance.BaseURL,
		FuturesBaseURL: cfg.Exchanges.Binance.FuturesBaseURL,
		Transport: transportConfig(cfg, binance.Name, cfg.Exchanges.Binance.BaseURL,
			cfg.Exchanges.Binance.Timeout, cfg.Exchanges.Binance.RateLimit, cfg.Exchanges.Binance.RateLimitBurst),
	}, e.Metrics, logger)
	okxClient := okx.New(okx.Config{
		APIKey:     cfg.Exchanges.OKX.APIKey,
		SecretKey:  cfg.Exchanges.OKX.SecretKey,
		Passphrase: cfg.Exchanges.OKX.Passphrase,
		BaseURL:    cfg.Exchanges.OKX.BaseURL,
		Simulated:  cfg.Exchanges.OKX.Simulated,
		Transport: transportConfig(cfg, okx.Name, cfg.Exchanges.OKX.BaseURL,
			cfg.Exchanges.OKX.Timeout, cfg.Exchanges.OKX.RateLimit, cfg.Exchanges.OKX.RateLimitBurst),
	}, e.Metrics, logger)
	e.Live = exchange.NewRegistry(binanceClient, okxClient)
	e.logger.Info("Exchange adapters configured",
		zap.String("binance_url", cfg.Exchanges.Binance.BaseURL),
		zap.String("okx_url", cfg.Exchanges.OKX.BaseURL),
		zap.Bool("binance_credentials", binanceClient.HasCredentials()),
		zap.Bool("okx_credentials", okxClient.HasCredentials()),
	)

	takerFees := map[string]decimal.Decimal{
		binance.Name: cfg.Exchanges.Binance.TakerFee,
		okx.Name:     cfg.Exchanges.OKX.TakerFee,
	}
	e.Market = seedMarket(cfg.Paper, takerFees)
	var binanceSource, okxSource exchange.Adapter
	if cfg.Paper.LivePrices {
		binanceSource, okxSource = binanceClient, okxClient
	}
	e.Paper = exchange.NewRegistry(
		paper.NewVenue(binance.Name, e.Market, binanceSource),
		paper.NewFundingVenue(okx.Name, e.Market, okxSource),
	)

	store, closeStore, err := NewLedger(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	e.Store = store
	e.closers = append(e.closers, closeStore)

	locker, closeLocker, err := NewLocker(ctx, cfg.Redis, logger)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.closers = append(e.closers, closeLocker)

	selector := transfer.NewNetworkSelector(
		transfer.DefaultAliases(),
		cfg.Transfer.Networks,
		cfg.Transfer.Priority,
		cfg.Transfer.MultiChainAssets,
		logger,
	)
	coordinator := transfer.NewCoordinator(transfer.Config{
		PollInterval: cfg.Transfer.PollInterval,
		FastTimeout:  cfg.Transfer.FastTimeout,
		SlowTimeout:  cfg.Transfer.SlowTimeout,
		ConfirmRatio: cfg.Transfer.ConfirmRatio,
		FastNetworks: cfg.Transfer.FastNetworks,
	}, selector, e.Metrics, logger)

	e.Orchestrator = orchestrator.New(orchestrator.Config{
		FeeRate:         cfg.Execution.FeeRate,
		TakerFees:       takerFees,
		MaxSlippage:     cfg.Execution.MaxSlippage,
		StopLoss:        cfg.Execution.StopLoss,
		MinNotional:     cfg.Execution.MinNotional,
		QuoteAsset:      cfg.Execution.QuoteAsset,
		MaxSpreadDrift:  cfg.Execution.MaxSpreadDrift,
		LockTTL:         cfg.Execution.LockTTL,
		StepTimeout:     cfg.Execution.StepTimeout,
		DefaultMode:     models.Mode(cfg.Mode),
		FuturesPrimary:  cfg.Funding.FuturesPrimary,
		FuturesFallback: cfg.Funding.FuturesFallback,
	}, orchestrator.Deps{
		Live:      e.Live,
		Paper:     e.Paper,
		Resolver:  balance.NewResolver(cfg.Execution.SafetyMargin, logger),
		Transfers: coordinator,
		Ledger:    store,
		Locker:    locker,
		Recorder:  e.Metrics,
	}, logger)

	deps := api.Deps{
		Executor: e.Orchestrator,
		Store:    store,
	}
	if cfg.Detector.Enabled {
		e.Detector = detector.New(detector.Config{
			Interval:     cfg.Detector.Interval,
			FetchTimeout: cfg.Detector.FetchTimeout,
			TTL:          cfg.Detector.TTL,
			Notional:     cfg.Detector.Notional,
			FeeRate:      cfg.Detector.FeeRate,
			MinSpread:    cfg.Detector.MinSpread,
			MaxSpread:    cfg.Detector.MaxSpread,
			MinProfit:    cfg.Detector.MinProfit,
			MaxResults:   cfg.Detector.MaxResults,
			QuoteAsset:   cfg.Detector.QuoteAsset,
			Symbols:      cfg.Detector.Symbols,
		}, e.Live.All(), e.Metrics, logger)
		deps.Feed = e.Detector
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = e.Metrics.Handler()
	}
	e.Server = api.NewAPIServer(cfg.Server, cfg.Metrics.Path, models.Mode(cfg.Mode), deps, logger)

	return e, nil
}

// Run serves the API and runs the detector until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("Starting engine", zap.String("mode", e.cfg.Mode))
	e.Server.Start()

	done := make(chan struct{})
	if e.Detector != nil {
		go func() {
			defer close(done)
			e.Detector.Run(ctx)
		}()
	} else {
		close(done)
	}

	<-ctx.Done()
	e.logger.Info("Stopping engine...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := e.Server.Stop(shutdownCtx); err != nil {
		e.logger.Error("API server did not stop cleanly", zap.Error(err))
	}
	<-done
	e.Close()
}

// Close releases the ledger and lock connections.
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// NewLedger opens the configured trade ledger.
func NewLedger(ctx context.Context, cfg config.Database) (ledger.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := ledger.NewPostgresPool(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		store := ledger.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		db, err := database.NewDatabase(cfg)
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		return ledger.NewGormStore(db), closeDB, nil
	}
}

// NewLocker returns a Redis-backed capital lock when an address is configured,
// otherwise an in-process one.
func NewLocker(ctx context.Context, cfg config.Redis, logger *zap.Logger) (lock.Locker, func(), error) {
	if cfg.Addr == "" {
		return lock.NewMemoryLocker(), func() {}, nil
	}
	rdb, err := lock.NewRedisClient(ctx, lock.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	return lock.NewRedisLocker(rdb, "arbitrage", logger), func() { rdb.Close() }, nil
}

func transportConfig(cfg *config.Config, name, baseURL string, timeout time.Duration, rateLimit float64, burst int) exchange.TransportConfig {
	return exchange.TransportConfig{
		Name:           name,
		BaseURL:        baseURL,
		Timeout:        timeout,
		RateLimit:      rateLimit,
		RateLimitBurst: burst,
		Retry: retry.Policy{
			Attempts:   cfg.Retry.Attempts,
			BaseDelay:  cfg.Retry.BaseDelay,
			Multiplier: cfg.Retry.Multiplier,
			MaxDelay:   cfg.Retry.MaxDelay,
		},
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
	}
}

// seedMarket loads paper balances, withdrawal fees and the venues' taker fees.
// Config map keys arrive lower-cased.
func seedMarket(cfg config.Paper, takerFees map[string]decimal.Decimal) *paper.Market {
	m := paper.NewMarket()
	for venue, balances := range cfg.Balances {
		for asset, amount := range balances {
			m.SetBalance(venue, strings.ToUpper(asset), amount)
		}
	}
	for asset, fee := range cfg.WithdrawFees {
		m.SetWithdrawFee(strings.ToUpper(asset), fee)
	}
	for venue, rate := range takerFees {
		m.SetTradingFee(venue, rate)
	}
	return m
}
