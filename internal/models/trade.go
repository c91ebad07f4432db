package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the terminal outcome of one orchestration attempt.
type TradeStatus string

const (
	TradeStatusCompleted TradeStatus = "completed"
	TradeStatusFailed    TradeStatus = "failed"
)

// Mode selects between paper venues and the real exchanges.
type Mode string

const (
	ModeSimulation Mode = "simulation"
	ModeReal       Mode = "real"
)

// Valid reports whether m is a known execution mode.
func (m Mode) Valid() bool {
	return m == ModeSimulation || m == ModeReal
}

// TradeRecord is one row of the append-only trade ledger.
// A record is never updated after insert; corrections are written as new records.
type TradeRecord struct {
	ID              string          `gorm:"primaryKey;size:36" json:"id"`
	Symbol          string          `gorm:"index;not null" json:"symbol"`
	Strategy        string          `gorm:"size:16;not null;default:spot" json:"strategy"`
	BuyExchange     string          `gorm:"not null" json:"buyExchange"`
	SellExchange    string          `gorm:"not null" json:"sellExchange"`
	BuyPrice        decimal.Decimal `gorm:"type:numeric" json:"buyPrice"`
	SellPrice       decimal.Decimal `gorm:"type:numeric" json:"sellPrice"`
	Quantity        decimal.Decimal `gorm:"type:numeric" json:"quantity"`
	InvestedAmount  decimal.Decimal `gorm:"type:numeric" json:"investedAmount"`
	GrossProfit     decimal.Decimal `gorm:"type:numeric" json:"grossProfit"`
	Fees            decimal.Decimal `gorm:"type:numeric" json:"fees"`
	NetProfit       decimal.Decimal `gorm:"type:numeric" json:"netProfit"` // raw, may be negative
	RoiPercent      decimal.Decimal `gorm:"type:numeric" json:"roiPercentage"`
	ExecutionTimeMs int64           `json:"executionTimeMs"`
	Status          TradeStatus     `gorm:"index;size:16;not null" json:"status"`
	ErrorKind       string          `gorm:"size:32" json:"errorKind,omitempty"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
	Mode            Mode            `gorm:"size:16;not null" json:"mode"`
	ExecutedAt      time.Time       `gorm:"index;not null" json:"executedAt"`
}

// TableName pins the ledger table name for both the gorm and pgx stores.
func (TradeRecord) TableName() string {
	return "trade_records"
}

// DisplayNetProfit clamps the persisted net profit at zero for dashboards.
func (t TradeRecord) DisplayNetProfit() decimal.Decimal {
	if t.NetProfit.IsNegative() {
		return decimal.Zero
	}
	return t.NetProfit
}
