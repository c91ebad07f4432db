package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"cex-arbitrage-go/internal/apperror"
	"cex-arbitrage-go/internal/exchange"
	"cex-arbitrage-go/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AccountResponse is the subset of /api/v3/account used here.
type AccountResponse struct {
	Balances []AssetBalance `json:"balances"`
}

type AssetBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// GetBalance returns the spot balance of asset. Missing assets are zero.
func (c *Client) GetBalance(ctx context.Context, asset string) (models.Balance, error) {
	asset = strings.ToUpper(asset)
	var account AccountResponse
	params := url.Values{"omitZeroBalances": {"true"}}
	if err := c.private(ctx, c.spot, "GetBalance", http.MethodGet, "/api/v3/account", params, &account); err != nil {
		return models.Balance{}, fmt.Errorf("failed to get account: %w", err)
	}

	bal := models.Balance{Exchange: Name, Asset: asset, Available: decimal.Zero, Locked: decimal.Zero}
	for _, b := range account.Balances {
		if b.Asset == asset {
			bal.Available = parseDecimal(b.Free)
			bal.Locked = parseDecimal(b.Locked)
			break
		}
	}
	return bal, nil
}

// CreateOrderResponse represents the FULL response from creating a spot order.
type CreateOrderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	ExecutedQuantity    string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	Side                string `json:"side"`
	Fills               []Fill `json:"fills"`
}

type Fill struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
}

// commission totals the fee across fills. Binance charges every fill of one
// order in the same asset.
func (r CreateOrderResponse) commission() (decimal.Decimal, string) {
	total := decimal.Zero
	asset := ""
	for _, f := range r.Fills {
		if asset == "" {
			asset = f.CommissionAsset
		}
		if f.CommissionAsset == asset {
			total = total.Add(parseDecimal(f.Commission))
		}
	}
	return total, asset
}

// PlaceMarketOrder rounds the quantity to LOT_SIZE and places a spot market order.
func (c *Client) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	rules, err := c.Rules(ctx, req.Pair)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	price, err := c.GetPrice(ctx, req.Pair)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	qty, err := rules.RoundQuantity(req.Quantity, price)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("binance %s %s: %w", req.Side, req.Pair, err)
	}

	params := url.Values{}
	params.Set("symbol", symbolOf(req.Pair))
	params.Set("side", string(req.Side))
	params.Set("type", orderTypeMarket)
	params.Set("quantity", qty.String())
	params.Set("newOrderRespType", "FULL")
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	var resp CreateOrderResponse
	if err := c.private(ctx, c.spot, "PlaceMarketOrder", http.MethodPost, "/api/v3/order", params, &resp); err != nil {
		c.logger.Error("Failed to create order",
			zap.Error(err),
			zap.String("symbol", params.Get("symbol")),
			zap.String("side", string(req.Side)),
		)
		return exchange.OrderResult{}, fmt.Errorf("failed to create order: %w", err)
	}

	result := exchange.OrderResult{
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		Pair:        req.Pair,
		Side:        req.Side,
		ExecutedQty: parseDecimal(resp.ExecutedQuantity),
		QuoteQty:    parseDecimal(resp.CummulativeQuoteQty),
		Status:      resp.Status,
	}
	if result.ExecutedQty.IsPositive() {
		result.AvgPrice = result.QuoteQty.Div(result.ExecutedQty)
	}
	result.Commission, result.CommissionAsset = resp.commission()
	if result.CommissionAsset == req.Pair.Base {
		result.ExecutedQty = result.ExecutedQty.Sub(result.Commission)
	}
	c.logger.Info("Successfully created order",
		zap.String("order_id", result.OrderID),
		zap.String("symbol", resp.Symbol),
		zap.Stringer("executed_qty", result.ExecutedQty),
		zap.Stringer("avg_price", result.AvgPrice),
		zap.Stringer("commission", result.Commission),
		zap.String("commission_asset", result.CommissionAsset),
	)
	return result, nil
}

// FuturesOrderResponse is the RESULT response of /fapi/v1/order.
type FuturesOrderResponse struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	ExecutedQty string `json:"executedQty"`
	AvgPrice    string `json:"avgPrice"`
	CumQuote    string `json:"cumQuote"`
}

func (c *Client) futuresRulesFor(ctx context.Context, symbol string) (exchange.SymbolRules, error) {
	c.mu.RLock()
	rules, ok := c.futuresRules[symbol]
	loaded := c.futuresRules != nil
	c.mu.RUnlock()
	if ok {
		return rules, nil
	}
	if !loaded {
		var info ExchangeInfoResponse
		if _, err := c.futures.Do(ctx, "GetFuturesExchangeInfo", http.MethodGet, "/fapi/v1/exchangeInfo", public(nil, &info)); err != nil {
			return exchange.SymbolRules{}, fmt.Errorf("failed to get futures exchange info: %w", err)
		}
		all := make(map[string]exchange.SymbolRules, len(info.Symbols))
		for _, s := range info.Symbols {
			all[s.Symbol] = s.Rules()
		}
		c.mu.Lock()
		c.futuresRules = all
		c.mu.Unlock()
		if rules, ok := all[symbol]; ok {
			return rules, nil
		}
	}
	return exchange.SymbolRules{}, apperror.OrderRejected("symbol", "unknown futures symbol "+symbol, apperror.WithExchange(Name))
}

// PlaceFuturesMarketOrder places a USDⓈ-M perpetual market order sized in base units.
func (c *Client) PlaceFuturesMarketOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	symbol := symbolOf(req.Pair)
	rules, err := c.futuresRulesFor(ctx, symbol)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	qty, err := rules.RoundQuantity(req.Quantity, decimal.Zero)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("binance futures %s %s: %w", req.Side, req.Pair, err)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(req.Side))
	params.Set("type", orderTypeMarket)
	params.Set("quantity", qty.String())
	params.Set("newOrderRespType", "RESULT")
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	var resp FuturesOrderResponse
	if err := c.private(ctx, c.futures, "PlaceFuturesMarketOrder", http.MethodPost, "/fapi/v1/order", params, &resp); err != nil {
		return exchange.OrderResult{}, fmt.Errorf("failed to create futures order: %w", err)
	}

	return exchange.OrderResult{
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		Pair:        req.Pair,
		Side:        req.Side,
		ExecutedQty: parseDecimal(resp.ExecutedQty),
		AvgPrice:    parseDecimal(resp.AvgPrice),
		QuoteQty:    parseDecimal(resp.CumQuote),
		Status:      resp.Status,
	}, nil
}
