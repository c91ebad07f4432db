package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"cex-arbitrage-go/internal/apperror"
	"cex-arbitrage-go/internal/exchange"
	"cex-arbitrage-go/internal/lock"
	"cex-arbitrage-go/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExecuteFunding buys spot and shorts the perpetual for the same quantity. If
// the short fails on the primary and the fallback futures venue, the spot
// position is sold back before the failure is recorded. Like Execute, it runs
// detached from ctx cancellation.
func (o *Orchestrator) ExecuteFunding(ctx context.Context, req models.FundingRequest) models.ExecutionResult {
	ctx = context.WithoutCancel(ctx)
	primary := req.FuturesExchange
	if primary == "" {
		primary = o.cfg.FuturesPrimary
	}
	r := o.newRun(StrategyFunding, req.Mode, req.Symbol, req.SpotExchange, primary)
	err := o.executeFunding(ctx, r, req, primary)
	return o.settle(ctx, r, err)
}

func (o *Orchestrator) executeFunding(ctx context.Context, r *run, req models.FundingRequest, primary string) error {
	mode := r.record.Mode
	if !mode.Valid() {
		return apperror.Validation("mode", "unknown mode "+string(mode))
	}
	pair, err := o.pairFor(req.Symbol)
	if err != nil {
		return err
	}
	r.record.Symbol = pair.Base + pair.Quote
	if req.SpotExchange == "" {
		return apperror.Validation("spotExchange", "spot exchange is required")
	}
	if primary == "" {
		return apperror.Validation("futuresExchange", "futures exchange is required")
	}
	if req.Notional.IsNegative() {
		return apperror.Validation("notional", "notional must not be negative")
	}
	fallback := req.FallbackExchange
	if fallback == "" {
		fallback = o.cfg.FuturesFallback
	}
	if strings.EqualFold(fallback, primary) {
		fallback = ""
	}
	cfg := o.riskParams(req.Config)

	spotAd, err := o.adapter(mode, req.SpotExchange)
	if err != nil {
		return err
	}
	hedgeAd, err := o.adapter(mode, primary)
	if err != nil {
		return err
	}

	keys := []lock.Key{
		{Exchange: spotAd.Name(), Asset: pair.Quote},
		{Exchange: spotAd.Name(), Asset: pair.Base},
		{Exchange: hedgeAd.Name(), Asset: pair.Quote},
	}
	if fallback != "" {
		keys = append(keys, lock.Key{Exchange: fallback, Asset: pair.Quote})
	}
	release, err := o.locker.Acquire(ctx, keys, o.cfg.LockTTL)
	if err != nil {
		return err
	}
	defer release()

	if err := r.saga.Fire(EventFunding); err != nil {
		return err
	}

	stepCtx, cancel := o.step(ctx)
	defer cancel()
	price, err := spotAd.GetPrice(stepCtx, pair)
	if err != nil {
		return fmt.Errorf("spot price on %s: %w", spotAd.Name(), err)
	}
	capital, err := o.resolver.Resolve(stepCtx, spotAd, pair, price)
	if err != nil {
		return err
	}
	spend := capital.QuoteSpendable
	if req.Notional.IsPositive() {
		spend = decimal.Min(spend, req.Notional)
	}
	qty, err := o.buy(ctx, r, spotAd, pair, price, spend, cfg)
	if err != nil {
		return fmt.Errorf("spot buy on %s: %w", spotAd.Name(), err)
	}
	if err := r.saga.Fire(EventSpotBought); err != nil {
		return err
	}

	hedge, hedgeErr := o.hedge(ctx, r, hedgeAd, pair, qty)
	if hedgeErr != nil {
		r.warn(fmt.Sprintf("hedge on %s failed: %s", hedgeAd.Name(), apperror.UserMessage(hedgeErr)), zap.Error(hedgeErr))
		if err := r.saga.Fire(EventHedgeFailed); err != nil {
			return err
		}
		if fallback != "" {
			var fbAd exchange.Adapter
			if fbAd, hedgeErr = o.adapter(mode, fallback); hedgeErr == nil {
				hedgeAd = fbAd
				hedge, hedgeErr = o.hedge(ctx, r, fbAd, pair, qty)
			}
			if hedgeErr != nil {
				r.warn(fmt.Sprintf("hedge on fallback %s failed: %s", fallback, apperror.UserMessage(hedgeErr)), zap.Error(hedgeErr))
			}
		}
		if hedgeErr != nil {
			if err := r.saga.Fire(EventHedgeFailed); err != nil {
				return err
			}
			o.rollback(ctx, r, spotAd, pair, qty)
			if err := r.saga.Fire(EventRolledBack); err != nil {
				return err
			}
			return fmt.Errorf("hedge %s failed on all futures venues: %w", pair.Base, hedgeErr)
		}
	}
	if err := r.saga.Fire(EventHedged); err != nil {
		return err
	}

	hedgeNotional := hedge.QuoteQty
	if !hedgeNotional.IsPositive() {
		hedgeNotional = hedge.ExecutedQty.Mul(hedge.AvgPrice)
	}
	r.details.HedgeOrderID = hedge.OrderID
	r.details.HedgeExchange = hedgeAd.Name()
	r.details.SellPrice = hedge.AvgPrice
	r.record.SellExchange = strings.ToLower(hedgeAd.Name())
	r.record.SellPrice = hedge.AvgPrice

	// Entry only: the position earns funding over time, so the realized
	// result at entry is the cost of both legs.
	fees := r.buyFee.Add(commissionValue(hedge, pair, hedge.AvgPrice, hedgeNotional, o.feeRate(cfg, hedgeAd.Name())))
	net := fees.Neg()
	r.details.GrossProfit = decimal.Zero
	r.details.Fees = fees.Round(8)
	r.record.GrossProfit = decimal.Zero
	r.record.Fees = fees.Round(8)
	r.record.NetProfit = net.Round(8)
	if r.record.InvestedAmount.IsPositive() {
		r.record.RoiPercent = net.Div(r.record.InvestedAmount).Mul(hundred).Round(4)
	}
	return nil
}

// hedge opens a short perpetual position of qty base units on a.
func (o *Orchestrator) hedge(ctx context.Context, r *run, a exchange.Adapter, pair exchange.Pair, qty decimal.Decimal) (exchange.OrderResult, error) {
	ft, ok := a.(exchange.FuturesTrader)
	if !ok {
		return exchange.OrderResult{}, apperror.Configuration(a.Name()+" has no futures market", apperror.WithExchange(a.Name()))
	}
	stepCtx, cancel := o.step(ctx)
	defer cancel()
	order, err := ft.PlaceFuturesMarketOrder(stepCtx, exchange.OrderRequest{
		Pair:          pair,
		Side:          exchange.SideSell,
		Quantity:      qty,
		ClientOrderID: r.clientOrderID("hedge"),
	})
	if err != nil {
		return exchange.OrderResult{}, err
	}
	if !order.ExecutedQty.IsPositive() {
		return exchange.OrderResult{}, apperror.OrderRejected("quantity", "hedge order filled nothing", apperror.WithExchange(a.Name()))
	}
	r.log.Info("Hedged",
		zap.String("exchange", a.Name()),
		zap.String("order_id", order.OrderID),
		zap.Stringer("qty", order.ExecutedQty),
		zap.Stringer("price", order.AvgPrice),
	)
	return order, nil
}

// rollback sells the spot leg back. Failures are logged and reported as
// warnings; the caller still settles the execution.
func (o *Orchestrator) rollback(ctx context.Context, r *run, a exchange.Adapter, pair exchange.Pair, qty decimal.Decimal) {
	stepCtx, cancel := o.step(ctx)
	defer cancel()
	order, err := a.PlaceMarketOrder(stepCtx, exchange.OrderRequest{
		Pair:          pair,
		Side:          exchange.SideSell,
		Quantity:      qty,
		ClientOrderID: r.clientOrderID("rb"),
	})
	if err != nil {
		r.log.Error("Rollback failed, spot position left open",
			zap.String("exchange", a.Name()),
			zap.Stringer("qty", qty),
			zap.Error(err),
		)
		r.details.Warnings = append(r.details.Warnings,
			fmt.Sprintf("rollback sell of %s %s on %s failed: %s", qty, pair.Base, a.Name(), apperror.UserMessage(err)))
		return
	}
	r.details.RolledBack = true
	r.log.Info("Rolled back spot leg", zap.String("exchange", a.Name()), zap.String("order_id", order.OrderID))
}
