package exchange

import (
	"context"

	"cex-arbitrage-go/internal/models"
	"github.com/shopspring/decimal"
)

type stubAdapter struct {
	name string
}

func (s *stubAdapter) Name() string         { return s.name }
func (s *stubAdapter) HasCredentials() bool { return false }
func (s *stubAdapter) GetPrices(context.Context) (map[Pair]decimal.Decimal, error) {
	return nil, nil
}
func (s *stubAdapter) GetPrice(context.Context, Pair) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (s *stubAdapter) GetBalance(context.Context, string) (models.Balance, error) {
	return models.Balance{}, nil
}
func (s *stubAdapter) PlaceMarketOrder(context.Context, OrderRequest) (OrderResult, error) {
	return OrderResult{}, nil
}
func (s *stubAdapter) GetDepositAddress(context.Context, string, string) (DepositAddress, error) {
	return DepositAddress{}, nil
}
func (s *stubAdapter) WithdrawFee(context.Context, string, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (s *stubAdapter) Withdraw(context.Context, WithdrawRequest) (WithdrawResult, error) {
	return WithdrawResult{}, nil
}
