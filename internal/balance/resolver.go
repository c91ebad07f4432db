// Package balance resolves how much capital an exchange account can deploy.
package balance

import (
	"context"
	"fmt"

	"cex-arbitrage-go/internal/exchange"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultSafetyMargin keeps 5% of the quote balance aside for fees and price movement.
var DefaultSafetyMargin = decimal.RequireFromString("0.95")

// Capital is a live view of what an account can put into one pair.
type Capital struct {
	TargetHeld     decimal.Decimal // base asset available
	QuoteHeld      decimal.Decimal // quote asset available
	TargetValue    decimal.Decimal // TargetHeld * price
	QuoteSpendable decimal.Decimal // QuoteHeld * safety margin
	Available      decimal.Decimal // max(TargetValue, QuoteSpendable)
}

// HoldsTarget reports whether at least qty of the base asset is already held.
func (c Capital) HoldsTarget(qty decimal.Decimal) bool {
	return qty.IsPositive() && c.TargetHeld.GreaterThanOrEqual(qty)
}

// Resolver reads balances straight from the adapter on every call.
type Resolver struct {
	safetyMargin decimal.Decimal
	logger       *zap.Logger
}

func NewResolver(safetyMargin decimal.Decimal, logger *zap.Logger) *Resolver {
	if !safetyMargin.IsPositive() || safetyMargin.GreaterThan(decimal.NewFromInt(1)) {
		safetyMargin = DefaultSafetyMargin
	}
	return &Resolver{safetyMargin: safetyMargin, logger: logger.Named("balance")}
}

// SafetyMargin returns the fraction of the quote balance treated as spendable.
func (r *Resolver) SafetyMargin() decimal.Decimal {
	return r.safetyMargin
}

// Resolve returns the greater of the held target value and the spendable quote balance.
func (r *Resolver) Resolve(ctx context.Context, adapter exchange.Adapter, pair exchange.Pair, price decimal.Decimal) (Capital, error) {
	target, err := adapter.GetBalance(ctx, pair.Base)
	if err != nil {
		return Capital{}, fmt.Errorf("failed to get %s balance on %s: %w", pair.Base, adapter.Name(), err)
	}
	quote, err := adapter.GetBalance(ctx, pair.Quote)
	if err != nil {
		return Capital{}, fmt.Errorf("failed to get %s balance on %s: %w", pair.Quote, adapter.Name(), err)
	}

	c := Capital{
		TargetHeld:     target.Available,
		QuoteHeld:      quote.Available,
		TargetValue:    target.Available.Mul(price),
		QuoteSpendable: quote.Available.Mul(r.safetyMargin),
	}
	c.Available = decimal.Max(c.TargetValue, c.QuoteSpendable)

	r.logger.Debug("Resolved capital",
		zap.String("exchange", adapter.Name()),
		zap.Stringer("pair", pair),
		zap.Stringer("target_held", c.TargetHeld),
		zap.Stringer("quote_held", c.QuoteHeld),
		zap.Stringer("available", c.Available),
	)
	return c, nil
}
