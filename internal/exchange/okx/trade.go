package okx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cex-arbitrage-go/internal/apperror"
	"cex-arbitrage-go/internal/exchange"
	"cex-arbitrage-go/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type accountBalance struct {
	Details []struct {
		Ccy       string `json:"ccy"`
		AvailBal  string `json:"availBal"`
		FrozenBal string `json:"frozenBal"`
	} `json:"details"`
}

// GetBalance returns the trading account balance of asset.
func (c *Client) GetBalance(ctx context.Context, asset string) (models.Balance, error) {
	asset = strings.ToUpper(asset)
	var accounts []accountBalance
	params := url.Values{"ccy": {asset}}
	if err := c.call(ctx, "GetBalance", http.MethodGet, "/api/v5/account/balance", params, nil, true, &accounts); err != nil {
		return models.Balance{}, fmt.Errorf("failed to get balance: %w", err)
	}

	bal := models.Balance{Exchange: Name, Asset: asset, Available: decimal.Zero, Locked: decimal.Zero}
	for _, acc := range accounts {
		for _, d := range acc.Details {
			if d.Ccy == asset {
				bal.Available = parseDecimal(d.AvailBal)
				bal.Locked = parseDecimal(d.FrozenBal)
			}
		}
	}
	return bal, nil
}

type orderRequest struct {
	InstID     string `json:"instId"`
	TdMode     string `json:"tdMode"`
	Side       string `json:"side"`
	OrdType    string `json:"ordType"`
	Sz         string `json:"sz"`
	TgtCcy     string `json:"tgtCcy,omitempty"`
	ClOrdID    string `json:"clOrdId,omitempty"`
	ReduceOnly bool   `json:"reduceOnly,omitempty"`
}

type orderAck struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

type orderDetail struct {
	OrdID     string `json:"ordId"`
	State     string `json:"state"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	// Fee is negative when charged.
	Fee    string `json:"fee"`
	FeeCcy string `json:"feeCcy"`
}

// clOrdId must be alphanumeric, up to 32 characters.
func clientOrderID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 32 {
		id = id[:32]
	}
	return id
}

func (c *Client) submitOrder(ctx context.Context, op string, body orderRequest) (string, error) {
	var acks []orderAck
	if err := c.call(ctx, op, http.MethodPost, "/api/v5/trade/order", nil, body, true, &acks); err != nil {
		return "", err
	}
	if len(acks) == 0 {
		return "", apperror.New(apperror.KindInternal, "empty order response", apperror.WithExchange(Name), apperror.WithOp(op))
	}
	if acks[0].SCode != "" && acks[0].SCode != "0" {
		return "", classifyCode(http.StatusOK, acks[0].SCode, acks[0].SMsg)
	}
	return acks[0].OrdID, nil
}

// orderFill polls the order until it reaches a terminal state; market orders
// normally fill within the first check.
func (c *Client) orderFill(ctx context.Context, id, ordID string) (orderDetail, error) {
	params := url.Values{"instId": {id}, "ordId": {ordID}}
	var last orderDetail
	for i := 0; i < c.fillChecks; i++ {
		var details []orderDetail
		if err := c.call(ctx, "GetOrder", http.MethodGet, "/api/v5/trade/order", params, nil, true, &details); err != nil {
			return orderDetail{}, fmt.Errorf("failed to get order %s: %w", ordID, err)
		}
		if len(details) > 0 {
			last = details[0]
			if last.State == "filled" || last.State == "canceled" || last.State == "mmp_canceled" {
				return last, nil
			}
		}
		select {
		case <-time.After(c.fillWait):
		case <-ctx.Done():
			return last, ctx.Err()
		}
	}
	return last, nil
}

func side(s exchange.Side) string {
	return strings.ToLower(string(s))
}

// PlaceMarketOrder places a spot market order sized in base currency.
func (c *Client) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	id := instID(req.Pair)
	inst, err := c.instrumentFor(ctx, "SPOT", id)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	qty, err := inst.rules().RoundQuantity(req.Quantity, decimal.Zero)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("okx %s %s: %w", req.Side, req.Pair, err)
	}

	ordID, err := c.submitOrder(ctx, "PlaceMarketOrder", orderRequest{
		InstID:  id,
		TdMode:  "cash",
		Side:    side(req.Side),
		OrdType: "market",
		Sz:      qty.String(),
		TgtCcy:  "base_ccy",
		ClOrdID: clientOrderID(req.ClientOrderID),
	})
	if err != nil {
		c.logger.Error("Failed to create order", zap.String("inst_id", id), zap.String("side", string(req.Side)), zap.Error(err))
		return exchange.OrderResult{}, fmt.Errorf("failed to create order: %w", err)
	}

	detail, err := c.orderFill(ctx, id, ordID)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	result := exchange.OrderResult{
		OrderID:     ordID,
		Pair:        req.Pair,
		Side:        req.Side,
		ExecutedQty: parseDecimal(detail.AccFillSz),
		AvgPrice:    parseDecimal(detail.AvgPx),
		Status:      detail.State,
	}
	result.QuoteQty = result.ExecutedQty.Mul(result.AvgPrice)
	if detail.FeeCcy != "" {
		result.Commission = parseDecimal(detail.Fee).Abs()
		result.CommissionAsset = strings.ToUpper(detail.FeeCcy)
		if result.CommissionAsset == req.Pair.Base {
			result.ExecutedQty = result.ExecutedQty.Sub(result.Commission)
		}
	}
	c.logger.Info("Successfully created order",
		zap.String("order_id", ordID),
		zap.String("inst_id", id),
		zap.Stringer("executed_qty", result.ExecutedQty),
		zap.Stringer("avg_price", result.AvgPrice),
		zap.Stringer("commission", result.Commission),
		zap.String("commission_asset", result.CommissionAsset),
	)
	return result, nil
}

// PlaceFuturesMarketOrder trades the USDT-margined perpetual swap. The base
// quantity is converted to contracts with the instrument's ctVal.
func (c *Client) PlaceFuturesMarketOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	id := swapInstID(req.Pair)
	inst, err := c.instrumentFor(ctx, "SWAP", id)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	ctVal := parseDecimal(inst.CtVal)
	if !ctVal.IsPositive() {
		return exchange.OrderResult{}, apperror.OrderRejected("ctVal", "instrument "+id+" has no contract value", apperror.WithExchange(Name))
	}
	contracts, err := inst.rules().RoundQuantity(req.Quantity.Div(ctVal), decimal.Zero)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("okx swap %s %s: %w", req.Side, req.Pair, err)
	}

	ordID, err := c.submitOrder(ctx, "PlaceFuturesMarketOrder", orderRequest{
		InstID:     id,
		TdMode:     "cross",
		Side:       side(req.Side),
		OrdType:    "market",
		Sz:         contracts.String(),
		ClOrdID:    clientOrderID(req.ClientOrderID),
		ReduceOnly: req.ReduceOnly,
	})
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("failed to create swap order: %w", err)
	}

	detail, err := c.orderFill(ctx, id, ordID)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	filled := parseDecimal(detail.AccFillSz).Mul(ctVal)
	avg := parseDecimal(detail.AvgPx)
	return exchange.OrderResult{
		OrderID:     ordID,
		Pair:        req.Pair,
		Side:        req.Side,
		ExecutedQty: filled,
		AvgPrice:    avg,
		QuoteQty:    filled.Mul(avg),
		Status:      detail.State,
	}, nil
}
