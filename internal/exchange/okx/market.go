package okx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"cex-arbitrage-go/internal/apperror"
	"cex-arbitrage-go/internal/exchange"
	"github.com/shopspring/decimal"
)

type ticker struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
}

type instrument struct {
	InstID string `json:"instId"`
	LotSz  string `json:"lotSz"`
	MinSz  string `json:"minSz"`
	CtVal  string `json:"ctVal"`
	State  string `json:"state"`
}

func (i instrument) rules() exchange.SymbolRules {
	return exchange.SymbolRules{StepSize: parseDecimal(i.LotSz), MinQty: parseDecimal(i.MinSz)}
}

// GetPrices returns the last price of every spot instrument.
func (c *Client) GetPrices(ctx context.Context) (map[exchange.Pair]decimal.Decimal, error) {
	var tickers []ticker
	params := url.Values{"instType": {"SPOT"}}
	if err := c.call(ctx, "GetPrices", http.MethodGet, "/api/v5/market/tickers", params, nil, false, &tickers); err != nil {
		return nil, fmt.Errorf("failed to get tickers: %w", err)
	}
	out := make(map[exchange.Pair]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		pair, err := exchange.ParseSymbol(t.InstID)
		if err != nil {
			continue
		}
		if price := parseDecimal(t.Last); price.IsPositive() {
			out[pair] = price
		}
	}
	return out, nil
}

// GetPrice returns the last spot price of pair.
func (c *Client) GetPrice(ctx context.Context, pair exchange.Pair) (decimal.Decimal, error) {
	var tickers []ticker
	params := url.Values{"instId": {instID(pair)}}
	if err := c.call(ctx, "GetPrice", http.MethodGet, "/api/v5/market/ticker", params, nil, false, &tickers); err != nil {
		return decimal.Zero, fmt.Errorf("failed to get price for %s: %w", pair, err)
	}
	if len(tickers) == 0 || !parseDecimal(tickers[0].Last).IsPositive() {
		return decimal.Zero, apperror.OrderRejected("symbol", "no ticker for "+instID(pair), apperror.WithExchange(Name))
	}
	return parseDecimal(tickers[0].Last), nil
}

// instrumentFor returns cached instrument metadata for a SPOT or SWAP instrument.
func (c *Client) instrumentFor(ctx context.Context, instType, id string) (instrument, error) {
	c.mu.RLock()
	inst, ok := c.instruments[id]
	c.mu.RUnlock()
	if ok {
		return inst, nil
	}

	var list []instrument
	params := url.Values{"instType": {instType}, "instId": {id}}
	if err := c.call(ctx, "GetInstrument", http.MethodGet, "/api/v5/public/instruments", params, nil, false, &list); err != nil {
		return instrument{}, fmt.Errorf("failed to get instrument %s: %w", id, err)
	}
	if len(list) == 0 {
		return instrument{}, apperror.OrderRejected("symbol", "unknown instrument "+id, apperror.WithExchange(Name))
	}

	c.mu.Lock()
	c.instruments[id] = list[0]
	c.mu.Unlock()
	return list[0], nil
}
