// Package exchangetest provides a testify mock of the exchange adapter interfaces.
package exchangetest

import (
	"context"

	"cex-arbitrage-go/internal/exchange"
	"cex-arbitrage-go/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockAdapter is a mock implementation of exchange.Adapter and FuturesTrader.
type MockAdapter struct {
	mock.Mock
	name        string
	credentials bool
}

// MockFundingAdapter additionally implements exchange.FundingAccount.
type MockFundingAdapter struct {
	*MockAdapter
}

var (
	_ exchange.Adapter        = (*MockAdapter)(nil)
	_ exchange.FuturesTrader  = (*MockAdapter)(nil)
	_ exchange.FundingAccount = (*MockFundingAdapter)(nil)
)

// NewMockAdapter creates a credentialed mock named name.
func NewMockAdapter(name string) *MockAdapter {
	return &MockAdapter{name: name, credentials: true}
}

// NewMockFundingAdapter creates a credentialed mock with a funding account.
func NewMockFundingAdapter(name string) *MockFundingAdapter {
	return &MockFundingAdapter{MockAdapter: NewMockAdapter(name)}
}

// WithoutCredentials makes HasCredentials report false.
func (m *MockAdapter) WithoutCredentials() *MockAdapter {
	m.credentials = false
	return m
}

func (m *MockAdapter) Name() string { return m.name }

func (m *MockAdapter) HasCredentials() bool { return m.credentials }

func (m *MockAdapter) GetPrices(ctx context.Context) (map[exchange.Pair]decimal.Decimal, error) {
	args := m.Called(ctx)
	prices, _ := args.Get(0).(map[exchange.Pair]decimal.Decimal)
	return prices, args.Error(1)
}

func (m *MockAdapter) GetPrice(ctx context.Context, pair exchange.Pair) (decimal.Decimal, error) {
	args := m.Called(ctx, pair)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockAdapter) GetBalance(ctx context.Context, asset string) (models.Balance, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(models.Balance), args.Error(1)
}

func (m *MockAdapter) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(exchange.OrderResult), args.Error(1)
}

func (m *MockAdapter) GetDepositAddress(ctx context.Context, asset, network string) (exchange.DepositAddress, error) {
	args := m.Called(ctx, asset, network)
	return args.Get(0).(exchange.DepositAddress), args.Error(1)
}

func (m *MockAdapter) WithdrawFee(ctx context.Context, asset, network string) (decimal.Decimal, error) {
	args := m.Called(ctx, asset, network)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockAdapter) Withdraw(ctx context.Context, req exchange.WithdrawRequest) (exchange.WithdrawResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(exchange.WithdrawResult), args.Error(1)
}

func (m *MockFundingAdapter) FundingBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockFundingAdapter) MoveToFunding(ctx context.Context, asset string, amount decimal.Decimal) error {
	args := m.Called(ctx, asset, amount)
	return args.Error(0)
}

func (m *MockFundingAdapter) MoveToTrading(ctx context.Context, asset string, amount decimal.Decimal) error {
	args := m.Called(ctx, asset, amount)
	return args.Error(0)
}

func (m *MockAdapter) PlaceFuturesMarketOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(exchange.OrderResult), args.Error(1)
}

// Balance is a shorthand for a models.Balance return value.
func Balance(exchangeName, asset string, available decimal.Decimal) models.Balance {
	return models.Balance{Exchange: exchangeName, Asset: asset, Available: available, Locked: decimal.Zero}
}
