package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel is a coarse bucket derived from the spread size. Very wide spreads
// are more likely to be stale quotes or illiquid books.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Opportunity is a transient detector output, recomputed every cycle.
type Opportunity struct {
	Symbol             string          `json:"symbol"`
	BuyExchange        string          `json:"buyExchange"`
	SellExchange       string          `json:"sellExchange"`
	BuyPrice           decimal.Decimal `json:"buyPrice"`
	SellPrice          decimal.Decimal `json:"sellPrice"`
	SpreadPercentage   decimal.Decimal `json:"spreadPercentage"`
	EstimatedNetProfit decimal.Decimal `json:"estimatedNetProfit"`
	RiskLevel          RiskLevel       `json:"riskLevel"`
	DetectedAt         time.Time       `json:"detectedAt"`
	ExpiresAt          time.Time       `json:"expiresAt"`
}

// Key identifies an opportunity; (symbol, buyExchange, sellExchange) is unique per cycle.
func (o Opportunity) Key() string {
	return o.Symbol + ":" + o.BuyExchange + ":" + o.SellExchange
}

// IsExpired reports whether the opportunity must be re-validated before use.
func (o Opportunity) IsExpired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}
