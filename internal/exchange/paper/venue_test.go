package paper

import (
	"context"
	"errors"
	"testing"

	"cex-arbitrage-go/internal/apperror"
	"cex-arbitrage-go/internal/exchange"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var btcusdt = exchange.NewPair("BTC", "USDT")

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestVenue_BuySellMovesBalances(t *testing.T) {
	m := NewMarket()
	m.SetBalance("binance", "USDT", dec("1000"))
	m.SetRules(btcusdt, exchange.SymbolRules{StepSize: dec("0.0001")})
	v := NewVenue("binance", m, nil)
	v.SeedPrice(btcusdt, dec("100"))

	res, err := v.PlaceMarketOrder(context.Background(), exchange.OrderRequest{Pair: btcusdt, Side: exchange.SideBuy, Quantity: dec("1.23456")})
	require.NoError(t, err)
	assert.True(t, res.ExecutedQty.Equal(dec("1.2345")))
	assert.True(t, m.Balance("binance", "USDT").Equal(dec("876.55")))
	assert.True(t, m.Balance("binance", "BTC").Equal(dec("1.2345")))

	_, err = v.PlaceMarketOrder(context.Background(), exchange.OrderRequest{Pair: btcusdt, Side: exchange.SideSell, Quantity: dec("5")})
	assert.Equal(t, apperror.KindInsufficientBalance, apperror.KindOf(err))
}

func TestVenue_WithdrawCreditsDestination(t *testing.T) {
	m := NewMarket()
	m.SetBalance("binance", "BTC", dec("1"))
	m.SetWithdrawFee("BTC", dec("0.0001"))
	src := NewVenue("binance", m, nil)
	dst := NewFundingVenue("okx", m, nil)

	addr, err := dst.GetDepositAddress(context.Background(), "BTC", "BTC")
	require.NoError(t, err)

	_, err = src.Withdraw(context.Background(), exchange.WithdrawRequest{Asset: "BTC", Address: addr.Address, Amount: dec("0.5")})
	require.NoError(t, err)
	assert.True(t, m.Balance("binance", "BTC").Equal(dec("0.5")))
	assert.True(t, m.Balance("okx", "BTC").IsZero(), "deposits to a funding venue skip the trading account")
	assert.True(t, m.FundingBalance("okx", "BTC").Equal(dec("0.4999")))

	require.NoError(t, dst.MoveToTrading(context.Background(), "BTC", dec("0.4999")))
	assert.True(t, m.Balance("okx", "BTC").Equal(dec("0.4999")))
	assert.True(t, m.FundingBalance("okx", "BTC").IsZero())

	err = dst.MoveToTrading(context.Background(), "BTC", dec("0.1"))
	assert.Equal(t, apperror.KindInsufficientBalance, apperror.KindOf(err))
}

func TestVenue_WithdrawToPlainVenueCreditsTrading(t *testing.T) {
	m := NewMarket()
	m.SetBalance("okx", "BTC", dec("1"))
	src := NewFundingVenue("okx", m, nil)
	addr, err := NewVenue("binance", m, nil).GetDepositAddress(context.Background(), "BTC", "BTC")
	require.NoError(t, err)

	require.NoError(t, src.MoveToFunding(context.Background(), "BTC", dec("0.5")))
	_, err = src.Withdraw(context.Background(), exchange.WithdrawRequest{Asset: "BTC", Address: addr.Address, Amount: dec("0.5")})
	require.NoError(t, err)
	assert.True(t, m.Balance("binance", "BTC").Equal(dec("0.5")))
	assert.True(t, m.FundingBalance("binance", "BTC").IsZero())
}

func TestVenue_TradingFeeCharged(t *testing.T) {
	m := NewMarket()
	m.SetBalance("binance", "USDT", dec("1000"))
	m.SetTradingFee("binance", dec("0.001"))
	v := NewVenue("binance", m, nil)
	v.SeedPrice(btcusdt, dec("100"))

	buy, err := v.PlaceMarketOrder(context.Background(), exchange.OrderRequest{Pair: btcusdt, Side: exchange.SideBuy, Quantity: dec("1")})
	require.NoError(t, err)
	assert.Equal(t, "BTC", buy.CommissionAsset)
	assert.True(t, buy.Commission.Equal(dec("0.001")))
	assert.True(t, buy.ExecutedQty.Equal(dec("0.999")))
	assert.True(t, buy.QuoteQty.Equal(dec("100")))
	assert.True(t, m.Balance("binance", "BTC").Equal(dec("0.999")))
	assert.True(t, m.Balance("binance", "USDT").Equal(dec("900")))

	sell, err := v.PlaceMarketOrder(context.Background(), exchange.OrderRequest{Pair: btcusdt, Side: exchange.SideSell, Quantity: dec("0.5")})
	require.NoError(t, err)
	assert.Equal(t, "USDT", sell.CommissionAsset)
	assert.True(t, sell.Commission.Equal(dec("0.05")))
	assert.True(t, sell.ExecutedQty.Equal(dec("0.5")))
	assert.True(t, m.Balance("binance", "USDT").Equal(dec("949.95")))
}

func TestVenue_NoTradingFeeReportsNoCommission(t *testing.T) {
	m := NewMarket()
	m.SetBalance("binance", "USDT", dec("100"))
	v := NewVenue("binance", m, nil)
	v.SeedPrice(btcusdt, dec("100"))

	res, err := v.PlaceMarketOrder(context.Background(), exchange.OrderRequest{Pair: btcusdt, Side: exchange.SideBuy, Quantity: dec("0.5")})
	require.NoError(t, err)
	assert.Empty(t, res.CommissionAsset)
	assert.True(t, res.Commission.IsZero())
}

func TestVenue_UnknownAddressIsBlocked(t *testing.T) {
	m := NewMarket()
	m.SetBalance("binance", "BTC", dec("1"))
	_, err := NewVenue("binance", m, nil).Withdraw(context.Background(), exchange.WithdrawRequest{Asset: "BTC", Address: "0xdead", Amount: dec("0.1")})
	assert.Equal(t, apperror.KindAllowlistBlocked, apperror.KindOf(err))
}

func TestFundingVenue_WithdrawsFromFunding(t *testing.T) {
	m := NewMarket()
	m.SetBalance("okx", "ETH", dec("2"))
	src := NewFundingVenue("okx", m, nil)
	addr, err := NewVenue("binance", m, nil).GetDepositAddress(context.Background(), "ETH", "ARBITRUM")
	require.NoError(t, err)

	req := exchange.WithdrawRequest{Asset: "ETH", Address: addr.Address, Amount: dec("1")}
	_, err = src.Withdraw(context.Background(), req)
	assert.Equal(t, apperror.KindInsufficientBalance, apperror.KindOf(err))

	require.NoError(t, src.MoveToFunding(context.Background(), "ETH", dec("1")))
	fb, err := src.FundingBalance(context.Background(), "ETH")
	require.NoError(t, err)
	assert.True(t, fb.Equal(dec("1")))

	_, err = src.Withdraw(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, m.Balance("binance", "ETH").Equal(dec("1")))
}

func TestFailNextAndCalls(t *testing.T) {
	m := NewMarket()
	v := NewVenue("okx", m, nil)
	boom := errors.New("boom")
	m.FailNext("okx", OpGetBalance, boom)

	_, err := v.GetBalance(context.Background(), "USDT")
	assert.ErrorIs(t, err, boom)
	_, err = v.GetBalance(context.Background(), "USDT")
	assert.NoError(t, err)
	assert.Equal(t, 2, m.Calls("okx", OpGetBalance))
}

func TestFuturesPosition(t *testing.T) {
	m := NewMarket()
	v := NewVenue("binance", m, nil)
	v.SeedPrice(btcusdt, dec("100"))

	_, err := v.PlaceFuturesMarketOrder(context.Background(), exchange.OrderRequest{Pair: btcusdt, Side: exchange.SideSell, Quantity: dec("0.5")})
	require.NoError(t, err)
	assert.True(t, m.Position("binance", btcusdt).Equal(dec("-0.5")))
}
