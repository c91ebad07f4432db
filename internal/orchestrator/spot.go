package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cex-arbitrage-go/internal/apperror"
	"cex-arbitrage-go/internal/balance"
	"cex-arbitrage-go/internal/detector"
	"cex-arbitrage-go/internal/exchange"
	"cex-arbitrage-go/internal/lock"
	"cex-arbitrage-go/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Execute runs buy, transfer and sell for one opportunity. It never returns an
// error: every outcome becomes one trade record and one result. Once started,
// the execution is not cancelled with ctx; a buy is always followed through.
func (o *Orchestrator) Execute(ctx context.Context, req models.ExecutionRequest) models.ExecutionResult {
	ctx = context.WithoutCancel(ctx)
	r := o.newRun(StrategySpot, req.Mode, req.Symbol, req.BuyExchange, req.SellExchange)
	r.record.BuyPrice = req.BuyPrice
	r.record.SellPrice = req.SellPrice
	r.details.BuyPrice = req.BuyPrice
	r.details.SellPrice = req.SellPrice
	err := o.executeSpot(ctx, r, req)
	return o.settle(ctx, r, err)
}

func (o *Orchestrator) executeSpot(ctx context.Context, r *run, req models.ExecutionRequest) error {
	mode := r.record.Mode
	if !mode.Valid() {
		return apperror.Validation("mode", "unknown mode "+string(mode))
	}
	pair, err := o.pairFor(req.Symbol)
	if err != nil {
		return err
	}
	r.record.Symbol = pair.Base + pair.Quote
	if req.BuyExchange == "" || req.SellExchange == "" {
		return apperror.Validation("exchange", "buy and sell exchanges are required")
	}
	if strings.EqualFold(req.BuyExchange, req.SellExchange) {
		return apperror.Validation("sellExchange", "buy and sell exchanges must differ")
	}
	if !req.BuyPrice.IsPositive() || !req.SellPrice.IsPositive() {
		return apperror.Validation("price", "buy and sell prices must be positive")
	}
	if req.Notional.IsNegative() {
		return apperror.Validation("notional", "notional must not be negative")
	}
	if !req.SellPrice.GreaterThan(req.BuyPrice) {
		return apperror.StaleOpportunity("sell price does not exceed buy price")
	}
	cfg := o.riskParams(req.Config)

	buyAd, err := o.adapter(mode, req.BuyExchange)
	if err != nil {
		return err
	}
	sellAd, err := o.adapter(mode, req.SellExchange)
	if err != nil {
		return err
	}

	checkCtx, cancel := o.step(ctx)
	buyPrice, err := o.confirmSpread(checkCtx, r, mode, pair, buyAd, sellAd, req)
	cancel()
	if err != nil {
		return err
	}

	release, err := o.locker.Acquire(ctx, []lock.Key{
		{Exchange: buyAd.Name(), Asset: pair.Quote},
		{Exchange: buyAd.Name(), Asset: pair.Base},
		{Exchange: sellAd.Name(), Asset: pair.Base},
	}, o.cfg.LockTTL)
	if err != nil {
		return err
	}
	defer release()

	resolveCtx, cancel := o.step(ctx)
	capital, err := o.resolver.Resolve(resolveCtx, buyAd, pair, buyPrice)
	cancel()
	if err != nil {
		return err
	}

	qty, err := o.acquire(ctx, r, buyAd, pair, buyPrice, req.Notional, capital, cfg)
	if err != nil {
		return err
	}
	if err := r.saga.Fire(EventAcquired); err != nil {
		return err
	}

	tr, err := o.transfers.Transfer(ctx, buyAd, sellAd, models.TransferRequest{
		Asset:            pair.Base,
		Amount:           qty,
		FromExchange:     buyAd.Name(),
		ToExchange:       sellAd.Name(),
		PreferredNetwork: cfg.PreferredNetwork,
	})
	r.details.Transfer = &tr
	if err != nil {
		// The bought asset stays on the buy exchange; no compensating sell.
		return fmt.Errorf("transfer %s from %s to %s: %w", pair.Base, buyAd.Name(), sellAd.Name(), err)
	}
	if err := r.saga.Fire(EventTransferred); err != nil {
		return err
	}

	sellQty := decimal.Min(tr.Received, qty)
	if funding, ok := sellAd.(exchange.FundingAccount); ok {
		// Deposits land in the funding account and cannot be sold from there.
		moveCtx, cancel := o.step(ctx)
		err := funding.MoveToTrading(moveCtx, pair.Base, sellQty)
		cancel()
		if err != nil {
			return fmt.Errorf("move %s to trading on %s: %w", pair.Base, sellAd.Name(), err)
		}
	}
	o.checkStopLoss(ctx, r, sellAd, pair, cfg.StopLoss)

	sellCtx, cancel := o.step(ctx)
	defer cancel()
	order, err := sellAd.PlaceMarketOrder(sellCtx, exchange.OrderRequest{
		Pair:          pair,
		Side:          exchange.SideSell,
		Quantity:      sellQty,
		ClientOrderID: r.clientOrderID("sell"),
	})
	if err != nil {
		return fmt.Errorf("sell on %s: %w", sellAd.Name(), err)
	}
	if !order.ExecutedQty.IsPositive() {
		return apperror.OrderRejected("quantity", "sell order on "+sellAd.Name()+" filled nothing", apperror.WithExchange(sellAd.Name()))
	}
	if err := r.saga.Fire(EventSold); err != nil {
		return err
	}

	sellFill := order.AvgPrice
	if !sellFill.IsPositive() {
		sellFill = req.SellPrice
	}
	sellNotional := order.QuoteQty
	if !sellNotional.IsPositive() {
		sellNotional = order.ExecutedQty.Mul(sellFill)
	}
	r.details.SellOrderID = order.OrderID
	r.details.SellPrice = sellFill
	r.record.SellPrice = sellFill
	o.checkSlippage(r, "sell", req.SellPrice, sellFill, cfg.MaxSlippage)

	sellFee := commissionValue(order, pair, sellFill, sellNotional, o.feeRate(cfg, sellAd.Name()))
	o.realize(r, order.ExecutedQty, sellFee, tr.Fee)
	return nil
}

// confirmSpread pins simulated prices, or in real mode re-reads live prices and
// rejects the request when the spread closed or drifted. It returns the buy
// price to size against.
func (o *Orchestrator) confirmSpread(ctx context.Context, r *run, mode models.Mode, pair exchange.Pair, buyAd, sellAd exchange.Adapter, req models.ExecutionRequest) (decimal.Decimal, error) {
	if mode == models.ModeSimulation {
		if s, ok := buyAd.(PriceSeeder); ok {
			s.SeedPrice(pair, req.BuyPrice)
		}
		if s, ok := sellAd.(PriceSeeder); ok {
			s.SeedPrice(pair, req.SellPrice)
		}
		return req.BuyPrice, nil
	}

	liveBuy, errBuy := buyAd.GetPrice(ctx, pair)
	liveSell, errSell := sellAd.GetPrice(ctx, pair)
	if err := errors.Join(errBuy, errSell); err != nil {
		r.warn("live price check unavailable, using requested prices", zap.Error(err))
		return req.BuyPrice, nil
	}

	requested := detector.Spread(req.BuyPrice, req.SellPrice)
	live := detector.Spread(liveBuy, liveSell)
	if !live.IsPositive() {
		return decimal.Zero, apperror.StaleOpportunity(fmt.Sprintf(
			"live spread %s%% is no longer positive (buy %s, sell %s)", live.StringFixed(4), liveBuy, liveSell))
	}
	if drift := requested.Sub(live).Abs(); o.cfg.MaxSpreadDrift.IsPositive() && drift.GreaterThan(o.cfg.MaxSpreadDrift) {
		return decimal.Zero, apperror.StaleOpportunity(fmt.Sprintf(
			"live spread %s%% drifted from requested %s%%", live.StringFixed(4), requested.StringFixed(4)))
	}
	r.details.BuyPrice = liveBuy
	r.record.BuyPrice = liveBuy
	return liveBuy, nil
}

// acquire decides between skipping the buy and buying, and returns the
// quantity of the base asset to move.
func (o *Orchestrator) acquire(ctx context.Context, r *run, a exchange.Adapter, pair exchange.Pair, price, notional decimal.Decimal, capital balance.Capital, cfg models.ExecutionConfig) (decimal.Decimal, error) {
	target := notional
	if !target.IsPositive() {
		target = o.cfg.MinNotional
	}
	required := decimal.Zero
	if target.IsPositive() {
		required = target.Div(price).RoundUp(8)
	}

	if capital.HoldsTarget(required) {
		if err := r.saga.Fire(EventHeld); err != nil {
			return decimal.Zero, err
		}
		qty := capital.TargetHeld
		if notional.IsPositive() {
			qty = required
		}
		r.details.SkippedBuy = true
		r.details.Quantity = qty
		r.details.InvestedAmount = qty.Mul(price)
		r.record.Quantity = qty
		r.record.InvestedAmount = r.details.InvestedAmount
		r.log.Info("Asset already held, skipping buy",
			zap.String("exchange", a.Name()),
			zap.Stringer("held", capital.TargetHeld),
			zap.Stringer("qty", qty),
		)
		return qty, nil
	}

	if err := r.saga.Fire(EventNeedBuy); err != nil {
		return decimal.Zero, err
	}
	spend := capital.QuoteSpendable
	if notional.IsPositive() {
		spend = decimal.Min(spend, notional)
	}
	qty, err := o.buy(ctx, r, a, pair, price, spend, cfg)
	if err != nil {
		return decimal.Zero, fmt.Errorf("buy on %s: %w", a.Name(), err)
	}
	return qty, nil
}

// checkStopLoss projects the sell against the live price and flags it when the
// projected loss exceeds stopLoss percent. The sell still proceeds.
func (o *Orchestrator) checkStopLoss(ctx context.Context, r *run, sellAd exchange.Adapter, pair exchange.Pair, stopLoss decimal.Decimal) {
	entry := r.details.BuyPrice
	if !stopLoss.IsPositive() || !entry.IsPositive() {
		return
	}
	priceCtx, cancel := o.step(ctx)
	defer cancel()
	live, err := sellAd.GetPrice(priceCtx, pair)
	if err != nil {
		r.log.Warn("Stop-loss price check failed", zap.String("exchange", sellAd.Name()), zap.Error(err))
		return
	}
	change := live.Sub(entry).Div(entry).Mul(hundred)
	if change.Neg().GreaterThan(stopLoss) {
		r.details.StopLossTriggered = true
		r.warn(fmt.Sprintf("projected loss %s%% on %s exceeds stop-loss %s%%", change.Neg().StringFixed(2), sellAd.Name(), stopLoss))
	}
}

// realize computes P&L from actual fills:
// gross = sold * (sellPx - buyPx), fees = the commission of both legs in quote
// plus the withdrawal fee valued at the buy price.
func (o *Orchestrator) realize(r *run, sold, sellFee, withdrawFee decimal.Decimal) {
	buyPx := r.details.BuyPrice
	gross := sold.Mul(r.details.SellPrice.Sub(buyPx))
	fees := r.buyFee.
		Add(sellFee).
		Add(withdrawFee.Mul(buyPx))
	net := gross.Sub(fees)

	roi := decimal.Zero
	if r.details.InvestedAmount.IsPositive() {
		roi = net.Div(r.details.InvestedAmount).Mul(hundred)
	}

	r.details.Quantity = sold
	r.details.GrossProfit = gross.Round(8)
	r.details.Fees = fees.Round(8)
	r.record.Quantity = sold
	r.record.InvestedAmount = r.details.InvestedAmount.Round(8)
	r.record.GrossProfit = gross.Round(8)
	r.record.Fees = fees.Round(8)
	r.record.NetProfit = net.Round(8)
	r.record.RoiPercent = roi.Round(4)
}
