package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"cex-arbitrage-go/internal/ledger"
	"cex-arbitrage-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log   *zap.Logger
	store ledger.Store
	now   func() time.Time
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, store ledger.Store) *APIHandler {
	return &APIHandler{log: log, store: store, now: time.Now}
}

// TradeRow is one dashboard table row. Losses display as zero profit.
type TradeRow struct {
	ID           string          `json:"id"`
	ExecutedAt   time.Time       `json:"executed_at"`
	Symbol       string          `json:"symbol"`
	Strategy     string          `json:"strategy"`
	Route        string          `json:"route"`
	Status       string          `json:"status"`
	Mode         string          `json:"mode"`
	NetProfit    decimal.Decimal `json:"net_profit"`
	Roi          decimal.Decimal `json:"roi_percentage"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// TradesHandler returns recent trades, most recent first.
func (h *APIHandler) TradesHandler(w http.ResponseWriter, r *http.Request) {
	f := ledger.Filter{Status: models.TradeStatus(r.URL.Query().Get("status"))}
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		f.Limit = n
	}

	records, err := h.store.List(r.Context(), f)
	if err != nil {
		h.log.Error("Failed to get trades from ledger", zap.Error(err))
		http.Error(w, "Failed to get trades", http.StatusInternalServerError)
		return
	}

	rows := make([]TradeRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, TradeRow{
			ID:           rec.ID,
			ExecutedAt:   rec.ExecutedAt,
			Symbol:       rec.Symbol,
			Strategy:     rec.Strategy,
			Route:        rec.BuyExchange + " → " + rec.SellExchange,
			Status:       string(rec.Status),
			Mode:         string(rec.Mode),
			NetProfit:    rec.DisplayNetProfit(),
			Roi:          rec.RoiPercent,
			ErrorMessage: rec.ErrorMessage,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

// StatisticsHandler calculates and returns trading statistics.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.List(r.Context(), ledger.Filter{Limit: 10000})
	if err != nil {
		h.log.Error("Failed to get trades for statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ledger.Summarize(records, h.now()))
}
