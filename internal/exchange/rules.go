package exchange

import (
	"fmt"

	"cex-arbitrage-go/internal/apperror"
	"github.com/shopspring/decimal"
)

// SymbolRules are a market's quantity constraints.
type SymbolRules struct {
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
}

// Floor rounds qty down to a multiple of StepSize. Rounding up could exceed
// the available balance, so it never happens.
func (r SymbolRules) Floor(qty decimal.Decimal) decimal.Decimal {
	if !r.StepSize.IsPositive() {
		return qty
	}
	return qty.Sub(qty.Mod(r.StepSize))
}

// RoundQuantity floors qty to the step size and checks it against the minimum
// quantity and, when price is known, the minimum notional.
func (r SymbolRules) RoundQuantity(qty, price decimal.Decimal) (decimal.Decimal, error) {
	rounded := r.Floor(qty)
	if !rounded.IsPositive() {
		return decimal.Zero, apperror.OrderRejected("LOT_SIZE",
			fmt.Sprintf("quantity %s rounds to zero with step %s", qty, r.StepSize))
	}
	if r.MinQty.IsPositive() && rounded.LessThan(r.MinQty) {
		return decimal.Zero, apperror.OrderRejected("MIN_QTY",
			fmt.Sprintf("quantity %s below minimum %s", rounded, r.MinQty))
	}
	if r.MinNotional.IsPositive() && price.IsPositive() {
		if notional := rounded.Mul(price); notional.LessThan(r.MinNotional) {
			return decimal.Zero, apperror.OrderRejected("MIN_NOTIONAL",
				fmt.Sprintf("notional %s below minimum %s", notional, r.MinNotional))
		}
	}
	return rounded, nil
}
