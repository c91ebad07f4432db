package detector

import (
	"context"
	"errors"
	"testing"
	"time"

	"cex-arbitrage-go/internal/exchange"
	"cex-arbitrage-go/internal/exchange/exchangetest"
	"cex-arbitrage-go/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testConfig() Config {
	return Config{
		Interval:     time.Hour,
		FetchTimeout: 50 * time.Millisecond,
		TTL:          5 * time.Minute,
		Notional:     dec("1000"),
		FeeRate:      dec("0.002"),
		MinSpread:    dec("0.1"),
		MaxSpread:    dec("10"),
		MinProfit:    dec("1"),
		MaxResults:   20,
		QuoteAsset:   "USDT",
	}
}

func TestSpread_Symmetry(t *testing.T) {
	p1, p2 := dec("100"), dec("101")
	ab := Spread(p1, p2)
	ba := Spread(p2, p1)

	assert.True(t, ab.Equal(dec("1")), "spread(A->B) = %s", ab)
	// spread(A->B) = -spread(B->A) / (1 + spread(B->A)/100)
	inverse := ba.Neg().Div(decimal.NewFromInt(1).Add(ba.Div(decimal.NewFromInt(100))))
	assert.True(t, inverse.Sub(ab).Abs().LessThan(dec("0.000001")), "inverse = %s", inverse)
	assert.False(t, ba.Equal(ab.Neg()))
}

func TestNormalizeSymbol(t *testing.T) {
	for _, raw := range []string{"BTCUSDT", "BTC-USDT", "BTC/USDT", "BTC-USDT-SWAP", " btc "} {
		assert.Equal(t, "BTC", NormalizeSymbol(raw), raw)
	}
}

func TestRiskFor(t *testing.T) {
	assert.Equal(t, models.RiskLow, RiskFor(dec("0.5")))
	assert.Equal(t, models.RiskMedium, RiskFor(dec("1")))
	assert.Equal(t, models.RiskMedium, RiskFor(dec("2.99")))
	assert.Equal(t, models.RiskHigh, RiskFor(dec("3")))
}

func TestEvaluate(t *testing.T) {
	cfg := testConfig()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	opp, ok := cfg.Evaluate("BTC", "binance", dec("100"), "okx", dec("101"), now)
	require.True(t, ok)
	// gross = 1000 * 0.01 = 10, fees = 2
	assert.True(t, opp.EstimatedNetProfit.Equal(dec("8")), "net %s", opp.EstimatedNetProfit)
	assert.Equal(t, models.RiskMedium, opp.RiskLevel)
	assert.Equal(t, now.Add(5*time.Minute), opp.ExpiresAt)

	_, ok = cfg.Evaluate("BTC", "okx", dec("101"), "binance", dec("100"), now)
	assert.False(t, ok, "negative direction")

	_, ok = cfg.Evaluate("BTC", "binance", dec("100"), "okx", dec("120"), now)
	assert.False(t, ok, "above max spread")

	_, ok = cfg.Evaluate("BTC", "binance", dec("100"), "okx", dec("100.25"), now)
	assert.False(t, ok, "below min profit: gross 2.5 - fees 2 = 0.5")
}

func TestCompute_SortsAndTruncates(t *testing.T) {
	cfg := testConfig()
	cfg.MaxResults = 2
	prices := map[string]map[string]decimal.Decimal{
		"binance": {"BTC": dec("100"), "ETH": dec("200"), "SOL": dec("50")},
		"okx":     {"BTC": dec("101"), "ETH": dec("204"), "SOL": dec("51.5"), "XRP": dec("1")},
	}

	opps := cfg.Compute(prices, time.Now())
	require.Len(t, opps, 2)
	assert.Equal(t, "SOL", opps[0].Symbol) // 3% spread
	assert.Equal(t, "ETH", opps[1].Symbol) // 2% spread
	for _, o := range opps {
		assert.Equal(t, "binance", o.BuyExchange)
		assert.Equal(t, "okx", o.SellExchange)
	}
}

func TestCompute_TrackedSymbolsOnly(t *testing.T) {
	cfg := testConfig()
	cfg.Symbols = []string{"BTCUSDT"}
	prices := map[string]map[string]decimal.Decimal{
		"binance": {"BTC": dec("100"), "ETH": dec("200")},
		"okx":     {"BTC": dec("101"), "ETH": dec("204")},
	}
	opps := cfg.Compute(prices, time.Now())
	require.Len(t, opps, 1)
	assert.Equal(t, "BTC", opps[0].Symbol)
}

func TestCycle_FailingSourceYieldsEmptySet(t *testing.T) {
	binance := exchangetest.NewMockAdapter("binance")
	okx := exchangetest.NewMockAdapter("okx")
	kraken := exchangetest.NewMockAdapter("kraken")

	binance.On("GetPrices", mock.Anything).Return(map[exchange.Pair]decimal.Decimal{
		exchange.NewPair("BTC", "USDT"): dec("100"),
		exchange.NewPair("BTC", "EUR"):  dec("90"),
	}, nil)
	okx.On("GetPrices", mock.Anything).Return(map[exchange.Pair]decimal.Decimal{
		exchange.NewPair("BTC", "USDT"): dec("101"),
	}, nil)
	kraken.On("GetPrices", mock.Anything).Return(nil, errors.New("connection refused"))

	rec := &recorder{}
	d := New(testConfig(), []exchange.Adapter{binance, okx, kraken}, rec, zap.NewNop())
	opps := d.Cycle(context.Background())

	require.Len(t, opps, 1)
	assert.Equal(t, StatePublished, d.State())
	latest, at := d.Latest()
	assert.Equal(t, opps, latest)
	assert.False(t, at.IsZero())
	assert.Equal(t, 1, rec.failed)
	assert.Equal(t, 1, rec.opportunities)
}

func TestCycle_SlowSourceTimesOut(t *testing.T) {
	fast := exchangetest.NewMockAdapter("binance")
	slow := exchangetest.NewMockAdapter("okx")
	fast.On("GetPrices", mock.Anything).Return(map[exchange.Pair]decimal.Decimal{exchange.NewPair("BTC", "USDT"): dec("100")}, nil)
	slow.On("GetPrices", mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.DeadlineExceeded)

	d := New(testConfig(), []exchange.Adapter{fast, slow}, nil, zap.NewNop())
	start := time.Now()
	opps := d.Cycle(context.Background())
	assert.Empty(t, opps)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRun_TriggerPublishes(t *testing.T) {
	a := exchangetest.NewMockAdapter("binance")
	b := exchangetest.NewMockAdapter("okx")
	a.On("GetPrices", mock.Anything).Return(map[exchange.Pair]decimal.Decimal{exchange.NewPair("ETH", "USDT"): dec("200")}, nil)
	b.On("GetPrices", mock.Anything).Return(map[exchange.Pair]decimal.Decimal{exchange.NewPair("ETH", "USDT"): dec("206")}, nil)

	rec := &recorder{}
	d := New(testConfig(), []exchange.Adapter{a, b}, rec, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	d.Trigger()
	assert.Eventually(t, func() bool { return rec.Cycles() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	latest, _ := d.Latest()
	require.Len(t, latest, 1)
	assert.Equal(t, "ETH", latest[0].Symbol)
}
