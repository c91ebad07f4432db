package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"cex-arbitrage-go/internal/apperror"
	"cex-arbitrage-go/internal/exchange"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TickerPrice represents the response for a single ticker price.
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// ExchangeInfoResponse represents the response from the /exchangeInfo endpoints.
type ExchangeInfoResponse struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo contains information about a specific trading symbol.
type SymbolInfo struct {
	Symbol     string   `json:"symbol"`
	Status     string   `json:"status"`
	BaseAsset  string   `json:"baseAsset"`
	QuoteAsset string   `json:"quoteAsset"`
	Filters    []Filter `json:"filters"`
}

// Filter represents a single symbol filter. Spot uses minNotional, futures notional.
type Filter struct {
	FilterType  string `json:"filterType"`
	MinQty      string `json:"minQty,omitempty"`
	StepSize    string `json:"stepSize,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
	Notional    string `json:"notional,omitempty"`
}

// Rules extracts lot-size and notional constraints from the filters.
func (s SymbolInfo) Rules() exchange.SymbolRules {
	var r exchange.SymbolRules
	for _, f := range s.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			r.StepSize = parseDecimal(f.StepSize)
			r.MinQty = parseDecimal(f.MinQty)
		case "MIN_NOTIONAL", "NOTIONAL":
			if v := parseDecimal(f.MinNotional); v.IsPositive() {
				r.MinNotional = v
			} else if v := parseDecimal(f.Notional); v.IsPositive() {
				r.MinNotional = v
			}
		}
	}
	return r
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func symbolOf(p exchange.Pair) string {
	return p.Base + p.Quote
}

// loadExchangeInfo fetches and caches spot symbol metadata. Trading rules are
// static enough to cache; balances never are.
func (c *Client) loadExchangeInfo(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.symbols != nil
	c.mu.RUnlock()
	if loaded {
		return nil
	}

	var info ExchangeInfoResponse
	if _, err := c.spot.Do(ctx, "GetExchangeInfo", http.MethodGet, "/api/v3/exchangeInfo", public(nil, &info)); err != nil {
		return fmt.Errorf("failed to get exchange info: %w", err)
	}

	symbols := make(map[string]symbolInfo, len(info.Symbols))
	pairs := make(map[exchange.Pair]string, len(info.Symbols))
	for _, s := range info.Symbols {
		p := exchange.NewPair(s.BaseAsset, s.QuoteAsset)
		symbols[s.Symbol] = symbolInfo{pair: p, rules: s.Rules()}
		pairs[p] = s.Symbol
	}

	c.mu.Lock()
	c.symbols = symbols
	c.pairs = pairs
	c.mu.Unlock()
	c.logger.Debug("Loaded exchange info", zap.Int("symbols", len(symbols)))
	return nil
}

// Rules returns the spot trading rules for pair.
func (c *Client) Rules(ctx context.Context, pair exchange.Pair) (exchange.SymbolRules, error) {
	if err := c.loadExchangeInfo(ctx); err != nil {
		return exchange.SymbolRules{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.symbols[symbolOf(pair)]
	if !ok {
		return exchange.SymbolRules{}, apperror.OrderRejected("symbol", "unknown symbol "+symbolOf(pair), apperror.WithExchange(Name))
	}
	return info.rules, nil
}

// GetPrices fetches the latest price for all symbols.
func (c *Client) GetPrices(ctx context.Context) (map[exchange.Pair]decimal.Decimal, error) {
	if err := c.loadExchangeInfo(ctx); err != nil {
		c.logger.Warn("Falling back to symbol parsing", zap.Error(err))
	}

	var prices []TickerPrice
	if _, err := c.spot.Do(ctx, "GetPrices", http.MethodGet, "/api/v3/ticker/price", public(nil, &prices)); err != nil {
		return nil, fmt.Errorf("failed to get all ticker prices: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[exchange.Pair]decimal.Decimal, len(prices))
	for _, p := range prices {
		price := parseDecimal(p.Price)
		if !price.IsPositive() {
			continue
		}
		if info, ok := c.symbols[p.Symbol]; ok {
			out[info.pair] = price
			continue
		}
		if pair, err := exchange.ParseSymbol(p.Symbol); err == nil {
			out[pair] = price
		}
	}
	return out, nil
}

// GetPrice fetches the latest price for one pair.
func (c *Client) GetPrice(ctx context.Context, pair exchange.Pair) (decimal.Decimal, error) {
	var ticker TickerPrice
	params := url.Values{"symbol": {symbolOf(pair)}}
	if _, err := c.spot.Do(ctx, "GetPrice", http.MethodGet, "/api/v3/ticker/price", public(params, &ticker)); err != nil {
		return decimal.Zero, fmt.Errorf("failed to get price for %s: %w", pair, err)
	}
	price := parseDecimal(ticker.Price)
	if !price.IsPositive() {
		return decimal.Zero, apperror.New(apperror.KindInternal, "invalid price "+ticker.Price, apperror.WithExchange(Name))
	}
	return price, nil
}
