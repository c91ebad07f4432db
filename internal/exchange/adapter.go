// Package exchange defines the uniform exchange adapter contract and the
// signed REST transport shared by the concrete exchange implementations.
package exchange

import (
	"context"

	"cex-arbitrage-go/internal/models"
	"github.com/shopspring/decimal"
)

// Side is the direction of a market order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the reversing side, used for compensating orders.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderRequest describes a market order. Quantity is in base units and is
// rounded down to the venue's lot size by the adapter before submission.
type OrderRequest struct {
	Pair          Pair
	Side          Side
	Quantity      decimal.Decimal
	ClientOrderID string
	// ReduceOnly only applies to futures orders closing an existing position.
	ReduceOnly bool
}

// OrderResult reports what actually filled, which can differ from what was requested.
//
// ExecutedQty is net of any commission charged in the base asset, so it is
// the quantity actually credited on a buy. QuoteQty is the gross notional.
type OrderResult struct {
	OrderID     string
	Pair        Pair
	Side        Side
	ExecutedQty decimal.Decimal
	AvgPrice    decimal.Decimal
	QuoteQty    decimal.Decimal
	Status      string
	// Commission is the trading fee charged in CommissionAsset. An empty
	// CommissionAsset means the exchange did not report one.
	Commission      decimal.Decimal
	CommissionAsset string
}

// DepositAddress is a destination for an on-chain transfer.
type DepositAddress struct {
	Asset   string
	Network string
	Address string
	Tag     string
}

// WithdrawRequest is an on-chain withdrawal. Network is the venue-specific identifier.
type WithdrawRequest struct {
	Asset    string
	Network  string
	Address  string
	Tag      string
	Amount   decimal.Decimal
	Fee      decimal.Decimal
	ClientID string
}

// WithdrawResult identifies an accepted withdrawal.
type WithdrawResult struct {
	ID string
}

// Adapter is the uniform interface to one exchange's REST API.
type Adapter interface {
	Name() string
	HasCredentials() bool
	GetPrices(ctx context.Context) (map[Pair]decimal.Decimal, error)
	GetPrice(ctx context.Context, pair Pair) (decimal.Decimal, error)
	GetBalance(ctx context.Context, asset string) (models.Balance, error)
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetDepositAddress(ctx context.Context, asset, network string) (DepositAddress, error)
	WithdrawFee(ctx context.Context, asset, network string) (decimal.Decimal, error)
	Withdraw(ctx context.Context, req WithdrawRequest) (WithdrawResult, error)
}

// FundingAccount is implemented by exchanges that withdraw from and deposit
// into a separate funding balance, so assets must be moved there before a
// withdrawal and back to trading before they can be sold.
type FundingAccount interface {
	FundingBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	MoveToFunding(ctx context.Context, asset string, amount decimal.Decimal) error
	MoveToTrading(ctx context.Context, asset string, amount decimal.Decimal) error
}

// FuturesTrader is implemented by exchanges with a perpetual futures market.
// Quantities are always in base units regardless of contract size.
type FuturesTrader interface {
	PlaceFuturesMarketOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}
