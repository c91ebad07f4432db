package paper

import (
	"context"
	"fmt"
	"strings"

	"cex-arbitrage-go/internal/apperror"
	"cex-arbitrage-go/internal/exchange"
	"cex-arbitrage-go/internal/models"
	"github.com/shopspring/decimal"
)

// Venue is a simulated exchange backed by a Market. Prices that were not set
// explicitly are read from the optional live price source.
type Venue struct {
	name   string
	market *Market
	source exchange.Adapter
}

var (
	_ exchange.Adapter       = (*Venue)(nil)
	_ exchange.FuturesTrader = (*Venue)(nil)
)

// FundingVenue is a Venue that withdraws only from a separate funding balance.
type FundingVenue struct {
	*Venue
}

var _ exchange.FundingAccount = (*FundingVenue)(nil)

// NewVenue creates a paper venue. source may be nil.
func NewVenue(name string, market *Market, source exchange.Adapter) *Venue {
	return &Venue{name: name, market: market, source: source}
}

// NewFundingVenue creates a paper venue with a separate funding account.
func NewFundingVenue(name string, market *Market, source exchange.Adapter) *FundingVenue {
	market.mu.Lock()
	market.fundingVenues[key(name)] = true
	market.mu.Unlock()
	return &FundingVenue{Venue: NewVenue(name, market, source)}
}

func (v *Venue) Name() string { return v.name }

func (v *Venue) HasCredentials() bool { return true }

// SeedPrice pins the fill price of pair on this venue.
func (v *Venue) SeedPrice(pair exchange.Pair, price decimal.Decimal) {
	v.market.SetPrice(v.name, pair, price)
}

func (v *Venue) GetPrices(ctx context.Context) (map[exchange.Pair]decimal.Decimal, error) {
	v.market.mu.Lock()
	err := v.market.enter(v.name, OpGetPrices)
	out := make(map[exchange.Pair]decimal.Decimal)
	for p, price := range bucket(v.market.prices, v.name) {
		out[p] = price
	}
	v.market.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if v.source != nil {
		live, err := v.source.GetPrices(ctx)
		if err != nil {
			return nil, err
		}
		for p, price := range live {
			if _, pinned := out[p]; !pinned {
				out[p] = price
			}
		}
	}
	return out, nil
}

func (v *Venue) GetPrice(ctx context.Context, pair exchange.Pair) (decimal.Decimal, error) {
	v.market.mu.Lock()
	err := v.market.enter(v.name, OpGetPrice)
	price, ok := bucket(v.market.prices, v.name)[pair]
	v.market.mu.Unlock()
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		return price, nil
	}
	if v.source != nil {
		return v.source.GetPrice(ctx, pair)
	}
	return decimal.Zero, apperror.OrderRejected("symbol", "no paper price for "+pair.String(), apperror.WithExchange(v.name))
}

func (v *Venue) GetBalance(ctx context.Context, asset string) (models.Balance, error) {
	asset = strings.ToUpper(asset)
	v.market.mu.Lock()
	defer v.market.mu.Unlock()
	if err := v.market.enter(v.name, OpGetBalance); err != nil {
		return models.Balance{}, err
	}
	return models.Balance{
		Exchange:  v.name,
		Asset:     asset,
		Available: bucket(v.market.spot, v.name)[asset],
		Locked:    decimal.Zero,
	}, nil
}

func (v *Venue) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	price, err := v.GetPrice(ctx, req.Pair)
	if err != nil {
		return exchange.OrderResult{}, err
	}

	m := v.market
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(v.name, OpPlaceMarketOrder); err != nil {
		return exchange.OrderResult{}, err
	}

	qty, err := m.rules[req.Pair.String()].RoundQuantity(req.Quantity, price)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("paper %s %s: %w", req.Side, req.Pair, err)
	}
	cost := qty.Mul(price)
	balances := bucket(m.spot, v.name)
	rate := m.takerFees[key(v.name)]
	result := exchange.OrderResult{
		Pair:        req.Pair,
		Side:        req.Side,
		ExecutedQty: qty,
		AvgPrice:    price,
		QuoteQty:    cost,
		Status:      "FILLED",
	}

	switch req.Side {
	case exchange.SideBuy:
		if balances[req.Pair.Quote].LessThan(cost) {
			return exchange.OrderResult{}, apperror.InsufficientBalance(v.name,
				fmt.Sprintf("need %s %s, have %s", cost, req.Pair.Quote, balances[req.Pair.Quote]))
		}
		if rate.IsPositive() {
			result.Commission, result.CommissionAsset = qty.Mul(rate), req.Pair.Base
			result.ExecutedQty = qty.Sub(result.Commission)
		}
		balances[req.Pair.Quote] = balances[req.Pair.Quote].Sub(cost)
		balances[req.Pair.Base] = balances[req.Pair.Base].Add(result.ExecutedQty)
	case exchange.SideSell:
		if balances[req.Pair.Base].LessThan(qty) {
			return exchange.OrderResult{}, apperror.InsufficientBalance(v.name,
				fmt.Sprintf("need %s %s, have %s", qty, req.Pair.Base, balances[req.Pair.Base]))
		}
		proceeds := cost
		if rate.IsPositive() {
			result.Commission, result.CommissionAsset = cost.Mul(rate), req.Pair.Quote
			proceeds = cost.Sub(result.Commission)
		}
		balances[req.Pair.Base] = balances[req.Pair.Base].Sub(qty)
		balances[req.Pair.Quote] = balances[req.Pair.Quote].Add(proceeds)
	default:
		return exchange.OrderResult{}, apperror.Validation("side", "unknown side "+string(req.Side))
	}

	result.OrderID = m.nextID(v.name)
	return result, nil
}

// PlaceFuturesMarketOrder adjusts a perpetual position; margin is not modelled.
func (v *Venue) PlaceFuturesMarketOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	price, err := v.GetPrice(ctx, req.Pair)
	if err != nil {
		return exchange.OrderResult{}, err
	}

	m := v.market
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(v.name, OpFuturesOrder); err != nil {
		return exchange.OrderResult{}, err
	}

	qty := m.rules[req.Pair.String()].Floor(req.Quantity)
	positions := bucket(m.positions, v.name)
	if req.Side == exchange.SideSell {
		positions[req.Pair] = positions[req.Pair].Sub(qty)
	} else {
		positions[req.Pair] = positions[req.Pair].Add(qty)
	}
	return exchange.OrderResult{
		OrderID:     m.nextID(v.name + "-perp"),
		Pair:        req.Pair,
		Side:        req.Side,
		ExecutedQty: qty,
		AvgPrice:    price,
		QuoteQty:    qty.Mul(price),
		Status:      "FILLED",
	}, nil
}

func (v *Venue) GetDepositAddress(ctx context.Context, asset, network string) (exchange.DepositAddress, error) {
	asset = strings.ToUpper(asset)
	v.market.mu.Lock()
	defer v.market.mu.Unlock()
	if err := v.market.enter(v.name, OpGetDepositAddress); err != nil {
		return exchange.DepositAddress{}, err
	}
	return exchange.DepositAddress{
		Asset:   asset,
		Network: network,
		Address: v.market.address(v.name, asset, network),
	}, nil
}

func (v *Venue) WithdrawFee(ctx context.Context, asset, network string) (decimal.Decimal, error) {
	v.market.mu.Lock()
	defer v.market.mu.Unlock()
	if err := v.market.enter(v.name, OpWithdrawFee); err != nil {
		return decimal.Zero, err
	}
	return v.market.fees[strings.ToUpper(asset)], nil
}

// Withdraw debits amount and credits amount minus fee to the address owner,
// into its funding account when the owner is a funding venue.
func (v *Venue) Withdraw(ctx context.Context, req exchange.WithdrawRequest) (exchange.WithdrawResult, error) {
	return v.withdraw(req, v.market.spot, false)
}

// withdraw deducts the fee from the amount, or charges it on top when feeOnTop is set.
func (v *Venue) withdraw(req exchange.WithdrawRequest, from map[string]map[string]decimal.Decimal, feeOnTop bool) (exchange.WithdrawResult, error) {
	asset := strings.ToUpper(req.Asset)
	m := v.market
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(v.name, OpWithdraw); err != nil {
		return exchange.WithdrawResult{}, err
	}

	dest, ok := m.addresses[req.Address]
	if !ok || dest.asset != asset {
		return exchange.WithdrawResult{}, apperror.AllowlistBlocked(v.name, "address "+req.Address+" is not in the withdrawal whitelist")
	}
	debit, received := req.Amount, req.Amount.Sub(m.fees[asset])
	if feeOnTop {
		debit, received = req.Amount.Add(m.fees[asset]), req.Amount
	}
	balances := bucket(from, v.name)
	if balances[asset].LessThan(debit) {
		return exchange.WithdrawResult{}, apperror.InsufficientBalance(v.name,
			fmt.Sprintf("withdrawable %s %s below %s", balances[asset], asset, debit))
	}

	balances[asset] = balances[asset].Sub(debit)
	if received.IsPositive() {
		credit := m.spot
		if m.fundingVenues[dest.venue] {
			credit = m.funding
		}
		destBalances := bucket(credit, dest.venue)
		destBalances[asset] = destBalances[asset].Add(received)
	}
	return exchange.WithdrawResult{ID: m.nextID(v.name + "-wd")}, nil
}

func (f *FundingVenue) FundingBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	f.market.mu.Lock()
	defer f.market.mu.Unlock()
	if err := f.market.enter(f.name, OpFundingBalance); err != nil {
		return decimal.Zero, err
	}
	return bucket(f.market.funding, f.name)[strings.ToUpper(asset)], nil
}

func (f *FundingVenue) MoveToFunding(ctx context.Context, asset string, amount decimal.Decimal) error {
	asset = strings.ToUpper(asset)
	m := f.market
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(f.name, OpMoveToFunding); err != nil {
		return err
	}
	spot := bucket(m.spot, f.name)
	if spot[asset].LessThan(amount) {
		return apperror.InsufficientBalance(f.name, fmt.Sprintf("trading %s %s below %s", spot[asset], asset, amount))
	}
	spot[asset] = spot[asset].Sub(amount)
	funding := bucket(m.funding, f.name)
	funding[asset] = funding[asset].Add(amount)
	return nil
}

func (f *FundingVenue) MoveToTrading(ctx context.Context, asset string, amount decimal.Decimal) error {
	asset = strings.ToUpper(asset)
	m := f.market
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(f.name, OpMoveToTrading); err != nil {
		return err
	}
	funding := bucket(m.funding, f.name)
	if funding[asset].LessThan(amount) {
		return apperror.InsufficientBalance(f.name, fmt.Sprintf("funding %s %s below %s", funding[asset], asset, amount))
	}
	funding[asset] = funding[asset].Sub(amount)
	spot := bucket(m.spot, f.name)
	spot[asset] = spot[asset].Add(amount)
	return nil
}

// Withdraw on a funding venue draws amount plus fee from the funding account.
func (f *FundingVenue) Withdraw(ctx context.Context, req exchange.WithdrawRequest) (exchange.WithdrawResult, error) {
	return f.withdraw(req, f.market.funding, true)
}
