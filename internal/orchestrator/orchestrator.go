// Package orchestrator runs cross-exchange arbitrage executions as sagas:
// buy on one exchange, move the asset on-chain, sell on the other, and write
// exactly one trade record per attempt whatever the outcome.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"cex-arbitrage-go/internal/apperror"
	"cex-arbitrage-go/internal/balance"
	"cex-arbitrage-go/internal/exchange"
	"cex-arbitrage-go/internal/lock"
	"cex-arbitrage-go/internal/models"
	"cex-arbitrage-go/internal/transfer"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	StrategySpot    = "spot"
	StrategyFunding = "funding"
)

var hundred = decimal.NewFromInt(100)

// Config holds execution defaults. Request values override the risk parameters.
type Config struct {
	FeeRate decimal.Decimal // fraction per leg
	// TakerFees overrides FeeRate per lowercase exchange name.
	TakerFees       map[string]decimal.Decimal
	MaxSlippage     decimal.Decimal // percent
	StopLoss        decimal.Decimal // percent
	MinNotional     decimal.Decimal // smallest quote amount worth trading
	QuoteAsset      string
	MaxSpreadDrift  decimal.Decimal // percentage points between requested and live spread
	LockTTL         time.Duration
	StepTimeout     time.Duration // bounds each exchange call outside the transfer
	DefaultMode     models.Mode
	FuturesPrimary  string
	FuturesFallback string
}

func DefaultConfig() Config {
	return Config{
		FeeRate:        decimal.RequireFromString("0.001"),
		MaxSlippage:    decimal.RequireFromString("0.5"),
		StopLoss:       decimal.NewFromInt(2),
		MinNotional:    decimal.NewFromInt(10),
		QuoteAsset:     "USDT",
		MaxSpreadDrift: decimal.RequireFromString("0.5"),
		LockTTL:        45 * time.Minute,
		StepTimeout:    2 * time.Minute,
		DefaultMode:    models.ModeSimulation,
	}
}

// Ledger persists trade records.
type Ledger interface {
	Insert(ctx context.Context, rec models.TradeRecord) error
}

// Recorder observes settled executions.
type Recorder interface {
	ObserveExecution(strategy string, mode models.Mode, status models.TradeStatus, kind string, elapsed time.Duration)
}

// PriceSeeder is implemented by simulated venues whose fill price can be pinned.
type PriceSeeder interface {
	SeedPrice(pair exchange.Pair, price decimal.Decimal)
}

// Deps are the collaborators of an Orchestrator. Paper may be nil when
// simulation is disabled and Live may be nil in simulation-only setups.
type Deps struct {
	Live      *exchange.Registry
	Paper     *exchange.Registry
	Resolver  *balance.Resolver
	Transfers *transfer.Coordinator
	Ledger    Ledger
	Locker    lock.Locker
	Recorder  Recorder
}

type Orchestrator struct {
	cfg       Config
	live      *exchange.Registry
	paper     *exchange.Registry
	resolver  *balance.Resolver
	transfers *transfer.Coordinator
	ledger    Ledger
	locker    lock.Locker
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time
}

func New(cfg Config, deps Deps, logger *zap.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = def.QuoteAsset
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = def.StepTimeout
	}
	if !cfg.DefaultMode.Valid() {
		cfg.DefaultMode = def.DefaultMode
	}
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	return &Orchestrator{
		cfg:       cfg,
		live:      deps.Live,
		paper:     deps.Paper,
		resolver:  deps.Resolver,
		transfers: deps.Transfers,
		ledger:    deps.Ledger,
		locker:    locker,
		recorder:  deps.Recorder,
		logger:    logger.Named("orchestrator"),
		now:       time.Now,
	}
}

// run is the mutable state of one execution.
type run struct {
	saga    *Saga
	record  models.TradeRecord
	details models.ExecutionDetails
	start   time.Time
	buyFee  decimal.Decimal // quote value of the buy commission
	log     *zap.Logger
}

func (o *Orchestrator) newRun(strategy string, mode models.Mode, symbol, buyExchange, sellExchange string) *run {
	if mode == "" {
		mode = o.cfg.DefaultMode
	}
	start := o.now()
	id := uuid.NewString()
	return &run{
		saga:  NewSaga(),
		start: start,
		record: models.TradeRecord{
			ID:           id,
			Symbol:       strings.ToUpper(symbol),
			Strategy:     strategy,
			BuyExchange:  strings.ToLower(buyExchange),
			SellExchange: strings.ToLower(sellExchange),
			Mode:         mode,
			ExecutedAt:   start.UTC(),
		},
		details: models.ExecutionDetails{TradeID: id},
		log: o.logger.With(
			zap.String("trade_id", id),
			zap.String("strategy", strategy),
			zap.String("symbol", symbol),
			zap.String("mode", string(mode)),
		),
	}
}

func (r *run) warn(msg string, fields ...zap.Field) {
	r.details.Warnings = append(r.details.Warnings, msg)
	r.log.Warn(msg, fields...)
}

// clientOrderID fits both exchanges' client id rules (alphanumeric, at most 32).
func (r *run) clientOrderID(leg string) string {
	return strings.ReplaceAll(r.record.ID, "-", "")[:24] + leg
}

// riskParams merges request overrides into the configured defaults. FeeRate is
// left as requested; see feeRate.
func (o *Orchestrator) riskParams(c models.ExecutionConfig) models.ExecutionConfig {
	if !c.MaxSlippage.IsPositive() {
		c.MaxSlippage = o.cfg.MaxSlippage
	}
	if !c.StopLoss.IsPositive() {
		c.StopLoss = o.cfg.StopLoss
	}
	return c
}

// feeRate is the trading fee assumed for a leg on exchangeName when the fill
// reports no usable commission: the request override, then the exchange's
// taker fee, then the global default.
func (o *Orchestrator) feeRate(c models.ExecutionConfig, exchangeName string) decimal.Decimal {
	if c.FeeRate.IsPositive() {
		return c.FeeRate
	}
	if rate, ok := o.cfg.TakerFees[strings.ToLower(exchangeName)]; ok && rate.IsPositive() {
		return rate
	}
	return o.cfg.FeeRate
}

// commissionValue values the commission of a fill in the quote asset. Fills
// without a commission, or charged in a third asset, are estimated from rate.
func commissionValue(order exchange.OrderResult, pair exchange.Pair, price, notional, rate decimal.Decimal) decimal.Decimal {
	switch order.CommissionAsset {
	case pair.Base:
		return order.Commission.Mul(price)
	case pair.Quote:
		return order.Commission
	}
	return notional.Mul(rate)
}

// step bounds a single exchange call. Executions run detached from the
// caller, so this is what keeps a stuck exchange from holding the locks.
func (o *Orchestrator) step(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.cfg.StepTimeout)
}

// committed reports whether the run has a position on an exchange that a
// failure would leave behind.
func (r *run) committed() bool {
	return r.details.BuyOrderID != "" || r.details.SkippedBuy
}

// pairFor accepts exchange symbols (BTCUSDT, BTC-USDT) and bare bases (BTC).
func (o *Orchestrator) pairFor(symbol string) (exchange.Pair, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return exchange.Pair{}, apperror.Validation("symbol", "symbol is required")
	}
	if p, err := exchange.ParseSymbol(symbol); err == nil {
		return p, nil
	}
	return exchange.NewPair(symbol, o.cfg.QuoteAsset), nil
}

// adapter resolves name for mode. Real mode requires credentials.
func (o *Orchestrator) adapter(mode models.Mode, name string) (exchange.Adapter, error) {
	reg := o.live
	if mode == models.ModeSimulation {
		reg = o.paper
	}
	if reg == nil {
		return nil, apperror.Configuration("no exchanges configured for " + string(mode) + " mode")
	}
	a, err := reg.Get(name)
	if err != nil {
		return nil, err
	}
	if mode == models.ModeReal && !a.HasCredentials() {
		return nil, apperror.Authentication(a.Name(), "API credentials are not configured")
	}
	return a, nil
}

// settle finalizes the saga, persists the record and builds the response.
func (o *Orchestrator) settle(ctx context.Context, r *run, err error) models.ExecutionResult {
	elapsed := o.now().Sub(r.start)
	r.record.ExecutionTimeMs = elapsed.Milliseconds()
	r.details.ExecutionTime = elapsed

	var res models.ExecutionResult
	if err != nil && r.committed() && apperror.KindOf(err) == apperror.KindInternal && errors.Is(err, context.Canceled) {
		err = apperror.TransferTimeout("execution interrupted after funds were committed; check both exchanges and reconcile manually",
			apperror.WithCause(err))
	}
	if err != nil {
		r.saga.Fail()
		kind := apperror.KindOf(err)
		msg := apperror.UserMessage(err)
		r.record.Status = models.TradeStatusFailed
		r.record.ErrorKind = string(kind)
		r.record.ErrorMessage = msg
		r.record.GrossProfit = decimal.Zero
		r.record.Fees = decimal.Zero
		r.record.NetProfit = decimal.Zero
		r.record.RoiPercent = decimal.Zero
		r.details.ErrorKind = string(kind)
		res.ErrorMessage = msg
		res.Internal = kind == apperror.KindInternal
		r.log.Error("Execution failed",
			zap.String("kind", string(kind)),
			zap.Strings("states", r.saga.History()),
			zap.Error(err),
		)
	} else {
		r.record.Status = models.TradeStatusCompleted
		res.Success = true
		res.NetProfit = r.record.DisplayNetProfit()
		res.RoiPercentage = r.record.RoiPercent
		r.log.Info("Execution settled",
			zap.Stringer("net_profit", r.record.NetProfit),
			zap.Stringer("roi", r.record.RoiPercent),
			zap.Duration("elapsed", elapsed),
		)
	}
	r.details.States = r.saga.History()

	if o.ledger != nil {
		if insertErr := o.ledger.Insert(context.WithoutCancel(ctx), r.record); insertErr != nil {
			r.warn("trade record not persisted: "+insertErr.Error(), zap.Error(insertErr))
		}
	}
	if o.recorder != nil {
		o.recorder.ObserveExecution(r.record.Strategy, r.record.Mode, r.record.Status, r.record.ErrorKind, elapsed)
	}

	res.ExecutionDetails = r.details
	return res
}

// buy places a market buy spending up to spend quote and records the fill.
func (o *Orchestrator) buy(ctx context.Context, r *run, a exchange.Adapter, pair exchange.Pair, price, spend decimal.Decimal, cfg models.ExecutionConfig) (decimal.Decimal, error) {
	if !spend.IsPositive() {
		return decimal.Zero, apperror.InsufficientBalance(a.Name(),
			"no "+pair.Quote+" available to buy "+pair.Base)
	}
	if o.cfg.MinNotional.IsPositive() && spend.LessThan(o.cfg.MinNotional) {
		return decimal.Zero, apperror.InsufficientBalance(a.Name(),
			"spendable "+spend.StringFixed(2)+" "+pair.Quote+" is below the minimum order of "+o.cfg.MinNotional.String())
	}

	stepCtx, cancel := o.step(ctx)
	defer cancel()
	order, err := a.PlaceMarketOrder(stepCtx, exchange.OrderRequest{
		Pair:          pair,
		Side:          exchange.SideBuy,
		Quantity:      spend.Div(price).RoundDown(8),
		ClientOrderID: r.clientOrderID("buy"),
	})
	if err != nil {
		return decimal.Zero, err
	}
	if !order.ExecutedQty.IsPositive() {
		return decimal.Zero, apperror.OrderRejected("quantity", "buy order on "+a.Name()+" filled nothing", apperror.WithExchange(a.Name()))
	}

	fill := order.AvgPrice
	if !fill.IsPositive() {
		fill = price
	}
	cost := order.QuoteQty
	if !cost.IsPositive() {
		cost = order.ExecutedQty.Mul(fill)
	}
	r.details.BuyOrderID = order.OrderID
	r.details.BuyPrice = fill
	r.details.InvestedAmount = cost
	r.buyFee = commissionValue(order, pair, fill, cost, o.feeRate(cfg, a.Name()))
	r.record.BuyPrice = fill
	r.details.Quantity = order.ExecutedQty
	r.record.Quantity = order.ExecutedQty
	r.record.InvestedAmount = cost
	o.checkSlippage(r, "buy", price, fill, cfg.MaxSlippage)

	r.log.Info("Bought",
		zap.String("exchange", a.Name()),
		zap.String("order_id", order.OrderID),
		zap.Stringer("qty", order.ExecutedQty),
		zap.Stringer("price", fill),
		zap.Stringer("commission", order.Commission),
		zap.String("commission_asset", order.CommissionAsset),
	)
	return order.ExecutedQty, nil
}

// checkSlippage flags fills that moved against us by more than maxPct.
func (o *Orchestrator) checkSlippage(r *run, leg string, expected, fill, maxPct decimal.Decimal) {
	if !expected.IsPositive() {
		return
	}
	adverse := fill.Sub(expected).Div(expected).Mul(hundred)
	if leg == "sell" {
		adverse = adverse.Neg()
	}
	adverse = adverse.Round(4)
	if adverse.GreaterThan(r.details.SlippagePercent) {
		r.details.SlippagePercent = adverse
	}
	if maxPct.IsPositive() && adverse.GreaterThan(maxPct) {
		r.details.SlippageExceeded = true
		r.warn(leg + " slippage " + adverse.String() + "% exceeds " + maxPct.String() + "%")
	}
}
