package binance

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

type depositAddressResponse struct {
	Address string `json:"address"`
	Coin    string `json:"coin"`
	Tag     string `json:"tag"`
}

// GetDepositAddress returns the deposit address of asset on network.
func (c *Client) GetDepositAddress(ctx context.Context, asset, network string) (exchange.DepositAddress, error) {
	params := url.Values{"coin": {strings.ToUpper(asset)}, "network": {network}}
	var resp depositAddressResponse
	if err := c.private(ctx, c.spot, "GetDepositAddress", http.MethodGet, "/sapi/v1/capital/deposit/address", params, &resp); err != nil {
		return exchange.DepositAddress{}, fmt.Errorf("failed to get deposit address: %w", err)
	}
	if resp.Address == "" {
		return exchange.DepositAddress{}, apperror.Configuration(
			fmt.Sprintf("no %s deposit address on network %s", asset, network), apperror.WithExchange(Name))
	}
	return exchange.DepositAddress{Asset: strings.ToUpper(asset), Network: network, Address: resp.Address, Tag: resp.Tag}, nil
}

type coinConfig struct {
	Coin        string          `json:"coin"`
	NetworkList []networkConfig `json:"networkList"`
}

type networkConfig struct {
	Network        string `json:"network"`
	WithdrawEnable bool   `json:"withdrawEnable"`
	WithdrawFee    string `json:"withdrawFee"`
	WithdrawMin    string `json:"withdrawMin"`
}

// WithdrawFee returns the current withdrawal fee for asset on network.
func (c *Client) WithdrawFee(ctx context.Context, asset, network string) (decimal.Decimal, error) {
	var coins []coinConfig
	if err := c.private(ctx, c.spot, "WithdrawFee", http.MethodGet, "/sapi/v1/capital/config/getall", nil, &coins); err != nil {
		return decimal.Zero, fmt.Errorf("failed to get coin config: %w", err)
	}
	asset = strings.ToUpper(asset)
	for _, coin := range coins {
		if coin.Coin != asset {
			continue
		}
		for _, n := range coin.NetworkList {
			if n.Network != network {
				continue
			}
			if !n.WithdrawEnable {
				return decimal.Zero, apperror.Configuration(
					fmt.Sprintf("withdrawals of %s on %s are disabled", asset, network), apperror.WithExchange(Name))
			}
			return parseDecimal(n.WithdrawFee), nil
		}
	}
	return decimal.Zero, apperror.Configuration(
		fmt.Sprintf("network %s not available for %s", network, asset), apperror.WithExchange(Name))
}

type withdrawResponse struct {
	ID string `json:"id"`
}

// Withdraw submits an on-chain withdrawal. Binance deducts the fee from amount.
func (c *Client) Withdraw(ctx context.Context, req exchange.WithdrawRequest) (exchange.WithdrawResult, error) {
	params := url.Values{}
	params.Set("coin", strings.ToUpper(req.Asset))
	params.Set("network", req.Network)
	params.Set("address", req.Address)
	params.Set("amount", req.Amount.String())
	if req.Tag != "" {
		params.Set("addressTag", req.Tag)
	}
	if req.ClientID != "" {
		params.Set("withdrawOrderId", req.ClientID)
	}

	var resp withdrawResponse
	if err := c.private(ctx, c.spot, "Withdraw", http.MethodPost, "/sapi/v1/capital/withdraw/apply", params, &resp); err != nil {
		c.logger.Error("Withdrawal failed",
			zap.String("asset", req.Asset),
			zap.String("network", req.Network),
			zap.Stringer("amount", req.Amount),
			zap.Error(err),
		)
		return exchange.WithdrawResult{}, fmt.Errorf("failed to withdraw: %w", err)
	}
	c.logger.Info("Withdrawal submitted", zap.String("id", resp.ID), zap.String("asset", req.Asset), zap.Stringer("amount", req.Amount))
	return exchange.WithdrawResult{ID: resp.ID}, nil
}
