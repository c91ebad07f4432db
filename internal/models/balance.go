package models

import "github.com/shopspring/decimal"

// Balance is a live snapshot of one asset on one exchange.
type Balance struct {
	Exchange  string          `json:"exchange"`
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}
