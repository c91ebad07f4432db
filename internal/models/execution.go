package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionConfig carries the per-request risk parameters.
type ExecutionConfig struct {
	MaxSlippage      decimal.Decimal `json:"maxSlippage"` // percent
	FeeRate          decimal.Decimal `json:"feeRate"`     // fraction per leg, e.g. 0.001
	StopLoss         decimal.Decimal `json:"stopLoss"`    // percent
	PreferredNetwork string          `json:"preferredNetwork,omitempty"`
}

// ExecutionRequest is an instruction to run one cross-exchange arbitrage.
// It is treated as immutable once handed to the orchestrator.
type ExecutionRequest struct {
	Symbol       string          `json:"symbol"`
	BuyExchange  string          `json:"buyExchange"`
	SellExchange string          `json:"sellExchange"`
	BuyPrice     decimal.Decimal `json:"buyPrice"`
	SellPrice    decimal.Decimal `json:"sellPrice"`
	// Notional optionally caps the quote amount to deploy. Zero means "use what is available".
	Notional decimal.Decimal `json:"notional"`
	Mode     Mode            `json:"mode"`
	Config   ExecutionConfig `json:"config"`
}

// FundingRequest is a hedged spot/futures execution: buy spot on one venue and
// short the perpetual on a futures venue, with an alternate futures venue.
type FundingRequest struct {
	Symbol           string          `json:"symbol"`
	SpotExchange     string          `json:"spotExchange"`
	FuturesExchange  string          `json:"futuresExchange"`
	FallbackExchange string          `json:"fallbackExchange,omitempty"`
	Notional         decimal.Decimal `json:"notional"`
	Mode             Mode            `json:"mode"`
	Config           ExecutionConfig `json:"config"`
}

// ExecutionDetails is the step-by-step account of a saga run.
type ExecutionDetails struct {
	TradeID           string          `json:"tradeId"`
	States            []string        `json:"states"`
	SkippedBuy        bool            `json:"skippedBuy"`
	BuyOrderID        string          `json:"buyOrderId,omitempty"`
	SellOrderID       string          `json:"sellOrderId,omitempty"`
	HedgeOrderID      string          `json:"hedgeOrderId,omitempty"`
	HedgeExchange     string          `json:"hedgeExchange,omitempty"`
	Quantity          decimal.Decimal `json:"quantity"`
	BuyPrice          decimal.Decimal `json:"buyPrice"`
	SellPrice         decimal.Decimal `json:"sellPrice"`
	InvestedAmount    decimal.Decimal `json:"investedAmount"`
	GrossProfit       decimal.Decimal `json:"grossProfit"`
	Fees              decimal.Decimal `json:"fees"`
	Transfer          *TransferResult `json:"transfer,omitempty"`
	SlippagePercent   decimal.Decimal `json:"slippagePercent"`
	SlippageExceeded  bool            `json:"slippageExceeded"`
	StopLossTriggered bool            `json:"stopLossTriggered"`
	RolledBack        bool            `json:"rolledBack"`
	ErrorKind         string          `json:"errorKind,omitempty"`
	Warnings          []string        `json:"warnings,omitempty"`
	ExecutionTime     time.Duration   `json:"-"`
}

// ExecutionResult is the structured response for one execution attempt.
type ExecutionResult struct {
	Success          bool             `json:"success"`
	NetProfit        decimal.Decimal  `json:"netProfit"`
	RoiPercentage    decimal.Decimal  `json:"roiPercentage"`
	ExecutionDetails ExecutionDetails `json:"executionDetails"`
	ErrorMessage     string           `json:"errorMessage,omitempty"`
	// Internal is set when the failure was unexpected rather than a business outcome.
	Internal bool `json:"-"`
}
