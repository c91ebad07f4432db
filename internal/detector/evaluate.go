package detector

import (
	"sort"
	"strings"
	"time"

	"cex-arbitrage-go/internal/exchange"
	"cex-arbitrage-go/internal/models"
	"github.com/shopspring/decimal"
)

var (
	hundred    = decimal.NewFromInt(100)
	lowRiskMax = decimal.NewFromInt(1)
	midRiskMax = decimal.NewFromInt(3)
)

// NormalizeSymbol reduces exchange symbols (BTCUSDT, BTC-USDT, BTC/USDT,
// BTC-USDT-SWAP) and bare assets (btc) to the canonical base symbol.
func NormalizeSymbol(raw string) string {
	if pair, err := exchange.ParseSymbol(raw); err == nil {
		return pair.Base
	}
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Spread returns the percentage gained buying at buyPrice and selling at sellPrice:
// (sell - buy) / buy * 100.
func Spread(buyPrice, sellPrice decimal.Decimal) decimal.Decimal {
	if !buyPrice.IsPositive() {
		return decimal.Zero
	}
	return sellPrice.Sub(buyPrice).Div(buyPrice).Mul(hundred)
}

// RiskFor buckets a spread; wide spreads are more often stale or illiquid quotes.
func RiskFor(spread decimal.Decimal) models.RiskLevel {
	switch {
	case spread.LessThan(lowRiskMax):
		return models.RiskLow
	case spread.LessThan(midRiskMax):
		return models.RiskMedium
	default:
		return models.RiskHigh
	}
}

// Evaluate scores one direction on the fixed notional. It returns false when
// the spread is outside [MinSpread, MaxSpread] or the net profit is below MinProfit.
func (c Config) Evaluate(symbol, buyExchange string, buyPrice decimal.Decimal, sellExchange string, sellPrice decimal.Decimal, now time.Time) (models.Opportunity, bool) {
	spread := Spread(buyPrice, sellPrice)
	if spread.LessThan(c.MinSpread) || spread.GreaterThan(c.MaxSpread) {
		return models.Opportunity{}, false
	}

	gross := c.Notional.Mul(sellPrice.Div(buyPrice).Sub(decimal.NewFromInt(1)))
	fees := c.Notional.Mul(c.FeeRate)
	net := decimal.Max(decimal.Zero, gross.Sub(fees))
	if net.LessThan(c.MinProfit) {
		return models.Opportunity{}, false
	}

	return models.Opportunity{
		Symbol:             symbol,
		BuyExchange:        buyExchange,
		SellExchange:       sellExchange,
		BuyPrice:           buyPrice,
		SellPrice:          sellPrice,
		SpreadPercentage:   spread.Round(4),
		EstimatedNetProfit: net.Round(2),
		RiskLevel:          RiskFor(spread),
		DetectedAt:         now,
		ExpiresAt:          now.Add(c.TTL),
	}, true
}

// Compute evaluates every ordered exchange pair for each symbol quoted on at
// least two exchanges. prices is exchange -> base symbol -> price.
func (c Config) Compute(prices map[string]map[string]decimal.Decimal, now time.Time) []models.Opportunity {
	exchanges := make([]string, 0, len(prices))
	for name := range prices {
		exchanges = append(exchanges, name)
	}
	sort.Strings(exchanges)

	var out []models.Opportunity
	for _, symbol := range c.symbolsIn(prices) {
		for _, a := range exchanges {
			pa, ok := prices[a][symbol]
			if !ok {
				continue
			}
			for _, b := range exchanges {
				if a == b {
					continue
				}
				pb, ok := prices[b][symbol]
				if !ok {
					continue
				}
				if opp, ok := c.Evaluate(symbol, a, pa, b, pb, now); ok {
					out = append(out, opp)
				}
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EstimatedNetProfit.Equal(out[j].EstimatedNetProfit) {
			return out[i].EstimatedNetProfit.GreaterThan(out[j].EstimatedNetProfit)
		}
		return out[i].Key() < out[j].Key()
	})
	if c.MaxResults > 0 && len(out) > c.MaxResults {
		out = out[:c.MaxResults]
	}
	return out
}

// symbolsIn returns the tracked symbols, or every symbol seen when none are configured.
func (c Config) symbolsIn(prices map[string]map[string]decimal.Decimal) []string {
	seen := make(map[string]struct{})
	if len(c.Symbols) > 0 {
		for _, s := range c.Symbols {
			seen[NormalizeSymbol(s)] = struct{}{}
		}
	} else {
		for _, set := range prices {
			for s := range set {
				seen[s] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
