package okx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"cex-arbitrage-go/internal/apperror"
	"cex-arbitrage-go/internal/exchange"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type depositAddress struct {
	Ccy   string `json:"ccy"`
	Chain string `json:"chain"`
	Addr  string `json:"addr"`
	Tag   string `json:"tag"`
	Memo  string `json:"memo"`
}

// GetDepositAddress returns the address for asset on chain, where network is
// the OKX chain name such as "USDT-Arbitrum One".
func (c *Client) GetDepositAddress(ctx context.Context, asset, network string) (exchange.DepositAddress, error) {
	asset = strings.ToUpper(asset)
	var addrs []depositAddress
	params := url.Values{"ccy": {asset}}
	if err := c.call(ctx, "GetDepositAddress", http.MethodGet, "/api/v5/asset/deposit-address", params, nil, true, &addrs); err != nil {
		return exchange.DepositAddress{}, fmt.Errorf("failed to get deposit address: %w", err)
	}
	for _, a := range addrs {
		if strings.EqualFold(a.Chain, network) && a.Addr != "" {
			tag := a.Tag
			if tag == "" {
				tag = a.Memo
			}
			return exchange.DepositAddress{Asset: asset, Network: a.Chain, Address: a.Addr, Tag: tag}, nil
		}
	}
	return exchange.DepositAddress{}, apperror.Configuration(
		fmt.Sprintf("no %s deposit address on chain %s", asset, network), apperror.WithExchange(Name))
}

type currency struct {
	Ccy    string `json:"ccy"`
	Chain  string `json:"chain"`
	CanWd  bool   `json:"canWd"`
	Fee    string `json:"fee"`
	MinFee string `json:"minFee"`
}

// WithdrawFee returns the on-chain withdrawal fee for asset on chain.
func (c *Client) WithdrawFee(ctx context.Context, asset, network string) (decimal.Decimal, error) {
	asset = strings.ToUpper(asset)
	var list []currency
	params := url.Values{"ccy": {asset}}
	if err := c.call(ctx, "WithdrawFee", http.MethodGet, "/api/v5/asset/currencies", params, nil, true, &list); err != nil {
		return decimal.Zero, fmt.Errorf("failed to get currencies: %w", err)
	}
	for _, cur := range list {
		if !strings.EqualFold(cur.Chain, network) {
			continue
		}
		if !cur.CanWd {
			return decimal.Zero, apperror.Configuration(
				fmt.Sprintf("withdrawals of %s on %s are disabled", asset, network), apperror.WithExchange(Name))
		}
		if fee := parseDecimal(cur.Fee); fee.IsPositive() {
			return fee, nil
		}
		return parseDecimal(cur.MinFee), nil
	}
	return decimal.Zero, apperror.Configuration(
		fmt.Sprintf("chain %s not available for %s", network, asset), apperror.WithExchange(Name))
}

type fundingBalance struct {
	Ccy      string `json:"ccy"`
	AvailBal string `json:"availBal"`
}

// FundingBalance returns the withdrawable funding account balance.
func (c *Client) FundingBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	asset = strings.ToUpper(asset)
	var list []fundingBalance
	params := url.Values{"ccy": {asset}}
	if err := c.call(ctx, "FundingBalance", http.MethodGet, "/api/v5/asset/balances", params, nil, true, &list); err != nil {
		return decimal.Zero, fmt.Errorf("failed to get funding balance: %w", err)
	}
	for _, b := range list {
		if b.Ccy == asset {
			return parseDecimal(b.AvailBal), nil
		}
	}
	return decimal.Zero, nil
}

type transferRequest struct {
	Ccy  string `json:"ccy"`
	Amt  string `json:"amt"`
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// MoveToFunding transfers amount from the trading account to the funding account.
func (c *Client) MoveToFunding(ctx context.Context, asset string, amount decimal.Decimal) error {
	if err := c.transfer(ctx, "MoveToFunding", asset, amount, accountTrading, accountFunding); err != nil {
		return fmt.Errorf("failed to move %s to funding: %w", asset, err)
	}
	c.logger.Info("Moved to funding account", zap.String("asset", asset), zap.Stringer("amount", amount))
	return nil
}

// MoveToTrading transfers amount from the funding account, where deposits
// land, to the trading account.
func (c *Client) MoveToTrading(ctx context.Context, asset string, amount decimal.Decimal) error {
	if err := c.transfer(ctx, "MoveToTrading", asset, amount, accountFunding, accountTrading); err != nil {
		return fmt.Errorf("failed to move %s to trading: %w", asset, err)
	}
	c.logger.Info("Moved to trading account", zap.String("asset", asset), zap.Stringer("amount", amount))
	return nil
}

func (c *Client) transfer(ctx context.Context, op, asset string, amount decimal.Decimal, from, to string) error {
	body := transferRequest{
		Ccy:  strings.ToUpper(asset),
		Amt:  amount.String(),
		From: from,
		To:   to,
		Type: "0",
	}
	return c.call(ctx, op, http.MethodPost, "/api/v5/asset/transfer", nil, body, true, nil)
}

type withdrawalRequest struct {
	Ccy      string `json:"ccy"`
	Amt      string `json:"amt"`
	Dest     string `json:"dest"`
	ToAddr   string `json:"toAddr"`
	Fee      string `json:"fee,omitempty"`
	Chain    string `json:"chain"`
	ClientID string `json:"clientId,omitempty"`
}

type withdrawalAck struct {
	WdID string `json:"wdId"`
}

// Withdraw submits an on-chain withdrawal from the funding account.
// OKX charges the fee on top of amt.
func (c *Client) Withdraw(ctx context.Context, req exchange.WithdrawRequest) (exchange.WithdrawResult, error) {
	toAddr := req.Address
	if req.Tag != "" {
		toAddr = req.Address + ":" + req.Tag
	}
	body := withdrawalRequest{
		Ccy:      strings.ToUpper(req.Asset),
		Amt:      req.Amount.String(),
		Dest:     destOnChain,
		ToAddr:   toAddr,
		Chain:    req.Network,
		ClientID: clientOrderID(req.ClientID),
	}
	if req.Fee.IsPositive() {
		body.Fee = req.Fee.String()
	}

	var acks []withdrawalAck
	if err := c.call(ctx, "Withdraw", http.MethodPost, "/api/v5/asset/withdrawal", nil, body, true, &acks); err != nil {
		c.logger.Error("Withdrawal failed",
			zap.String("asset", req.Asset),
			zap.String("chain", req.Network),
			zap.Stringer("amount", req.Amount),
			zap.Error(err),
		)
		return exchange.WithdrawResult{}, fmt.Errorf("failed to withdraw: %w", err)
	}
	if len(acks) == 0 || acks[0].WdID == "" {
		return exchange.WithdrawResult{}, apperror.New(apperror.KindInternal, "withdrawal accepted without id", apperror.WithExchange(Name))
	}
	c.logger.Info("Withdrawal submitted", zap.String("wd_id", acks[0].WdID), zap.String("asset", req.Asset), zap.Stringer("amount", req.Amount))
	return exchange.WithdrawResult{ID: acks[0].WdID}, nil
}
