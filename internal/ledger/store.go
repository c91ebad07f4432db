// Package ledger is the append-only record of execution attempts.
package ledger

import (
	"context"
	"time"

	"cex-arbitrage-go/internal/models"
	"github.com/shopspring/decimal"
)

// DefaultLimit caps List when the filter has no limit.
const DefaultLimit = 100

// Filter narrows List. Zero values match everything.
type Filter struct {
	Limit    int
	Status   models.TradeStatus
	Symbol   string
	Strategy string
	Since    time.Time
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	return f.Limit
}

// Store persists trade records. There is no update or delete.
type Store interface {
	Insert(ctx context.Context, rec models.TradeRecord) error
	List(ctx context.Context, f Filter) ([]models.TradeRecord, error)
}

// Window aggregates trade outcomes over a period.
type Window struct {
	Trades         int             `json:"trades"`
	Completed      int             `json:"completed"`
	Failed         int             `json:"failed"`
	Profitable     int             `json:"profitable"`
	WinRate        decimal.Decimal `json:"winRate"` // percent of completed trades with positive net profit
	TotalNetProfit decimal.Decimal `json:"totalNetProfit"`
	TotalInvested  decimal.Decimal `json:"totalInvested"`
}

func (w *Window) add(r models.TradeRecord) {
	w.Trades++
	if r.Status != models.TradeStatusCompleted {
		w.Failed++
		return
	}
	w.Completed++
	w.TotalNetProfit = w.TotalNetProfit.Add(r.NetProfit)
	w.TotalInvested = w.TotalInvested.Add(r.InvestedAmount)
	if r.NetProfit.IsPositive() {
		w.Profitable++
	}
}

func (w *Window) finish() {
	if w.Completed > 0 {
		w.WinRate = decimal.NewFromInt(int64(w.Profitable)).
			Div(decimal.NewFromInt(int64(w.Completed))).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}
}

// Statistics is the dashboard summary.
type Statistics struct {
	Last24h Window    `json:"last24h"`
	AllTime Window    `json:"allTime"`
	AsOf    time.Time `json:"asOf"`
}

// Summarize computes 24h and all-time windows from records.
func Summarize(records []models.TradeRecord, now time.Time) Statistics {
	s := Statistics{AsOf: now}
	cutoff := now.Add(-24 * time.Hour)
	for _, r := range records {
		s.AllTime.add(r)
		if !r.ExecutedAt.Before(cutoff) {
			s.Last24h.add(r)
		}
	}
	s.AllTime.finish()
	s.Last24h.finish()
	return s
}
