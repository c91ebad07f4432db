package models

import "github.com/shopspring/decimal"

// TransferRequest asks the transfer coordinator to move an asset between exchanges.
type TransferRequest struct {
	Asset            string          `json:"asset"`
	Amount           decimal.Decimal `json:"amount"`
	FromExchange     string          `json:"fromExchange"`
	ToExchange       string          `json:"toExchange"`
	PreferredNetwork string          `json:"preferredNetwork,omitempty"`
}

// TransferResult describes a withdrawal and whether it was observed at the destination.
type TransferResult struct {
	Asset          string          `json:"asset"`
	Amount         decimal.Decimal `json:"amount"`
	FromExchange   string          `json:"fromExchange"`
	ToExchange     string          `json:"toExchange"`
	Network        string          `json:"network"`
	DepositAddress string          `json:"depositAddress"`
	WithdrawalID   string          `json:"withdrawalId"`
	Fee            decimal.Decimal `json:"fee"`
	Received       decimal.Decimal `json:"received"`
	Confirmed      bool            `json:"confirmed"`
}
