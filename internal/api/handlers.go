package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"cex-arbitrage-go/internal/ledger"
	"cex-arbitrage-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxBodyBytes = 1 << 20
	maxTrades    = 1000
	// statistics are computed over the most recent rows only
	statisticsScanLimit = 10000
)

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := struct {
		UUID          string      `json:"uuid"`
		Mode          models.Mode `json:"mode"`
		StartTime     string      `json:"start_time"`
		Uptime        string      `json:"uptime"`
		DetectorState string      `json:"detector_state,omitempty"`
		LastScan      *time.Time  `json:"last_scan,omitempty"`
	}{
		UUID:      s.UUID,
		Mode:      s.mode,
		StartTime: s.StartTime.Format(time.RFC3339),
		Uptime:    s.now().Sub(s.StartTime).Round(time.Second).String(),
	}
	if s.deps.Feed != nil {
		status.DetectorState = s.deps.Feed.State().String()
		if _, at := s.deps.Feed.Latest(); !at.IsZero() {
			status.LastScan = &at
		}
	}
	s.writeJSON(w, http.StatusOK, status)
}

// executeHandler answers 200 for business failures; only unexpected failures are 500.
func (s *APIServer) executeHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ExecutionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Mode == "" {
		req.Mode = s.mode
	}
	s.logger.Info("Execution requested",
		zap.String("symbol", req.Symbol),
		zap.String("buy", req.BuyExchange),
		zap.String("sell", req.SellExchange),
		zap.String("mode", string(req.Mode)),
	)
	s.writeResult(w, s.deps.Executor.Execute(r.Context(), req))
}

func (s *APIServer) executeFundingHandler(w http.ResponseWriter, r *http.Request) {
	var req models.FundingRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Mode == "" {
		req.Mode = s.mode
	}
	s.logger.Info("Funding execution requested",
		zap.String("symbol", req.Symbol),
		zap.String("spot", req.SpotExchange),
		zap.String("futures", req.FuturesExchange),
		zap.String("mode", string(req.Mode)),
	)
	s.writeResult(w, s.deps.Executor.ExecuteFunding(r.Context(), req))
}

func (s *APIServer) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *APIServer) writeResult(w http.ResponseWriter, res models.ExecutionResult) {
	status := http.StatusOK
	if res.Internal {
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, res)
}

func (s *APIServer) opportunitiesHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feed == nil {
		s.writeError(w, http.StatusServiceUnavailable, "opportunity detector is disabled")
		return
	}
	latest, at := s.deps.Feed.Latest()
	// The snapshot can outlive its entries between cycles.
	now := s.now()
	opps := make([]models.Opportunity, 0, len(latest))
	for _, o := range latest {
		if !o.IsExpired(now) {
			opps = append(opps, o)
		}
	}
	resp := struct {
		Opportunities []models.Opportunity `json:"opportunities"`
		UpdatedAt     *time.Time           `json:"updatedAt,omitempty"`
		State         string               `json:"state"`
	}{Opportunities: opps, State: s.deps.Feed.State().String()}
	if !at.IsZero() {
		resp.UpdatedAt = &at
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) refreshHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feed == nil {
		s.writeError(w, http.StatusServiceUnavailable, "opportunity detector is disabled")
		return
	}
	s.deps.Feed.Trigger()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
}

// tradeView presents the ledger row with the dashboard's clamped net profit.
type tradeView struct {
	models.TradeRecord
	NetProfit    decimal.Decimal `json:"netProfit"`
	RawNetProfit decimal.Decimal `json:"rawNetProfit"`
}

func (s *APIServer) tradesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.Filter{
		Status:   models.TradeStatus(q.Get("status")),
		Symbol:   q.Get("symbol"),
		Strategy: q.Get("strategy"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = min(limit, maxTrades)
	}
	switch f.Status {
	case "", models.TradeStatusCompleted, models.TradeStatusFailed:
	default:
		s.writeError(w, http.StatusBadRequest, "status must be completed or failed")
		return
	}

	records, err := s.deps.Store.List(r.Context(), f)
	if err != nil {
		s.logger.Error("Failed to get trades from ledger", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to get trades")
		return
	}

	trades := make([]tradeView, 0, len(records))
	for _, rec := range records {
		trades = append(trades, tradeView{
			TradeRecord:  rec,
			NetProfit:    rec.DisplayNetProfit(),
			RawNetProfit: rec.NetProfit,
		})
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *APIServer) statisticsHandler(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Store.List(r.Context(), ledger.Filter{Limit: statisticsScanLimit})
	if err != nil {
		s.logger.Error("Failed to get trades for statistics", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to calculate statistics")
		return
	}
	s.writeJSON(w, http.StatusOK, ledger.Summarize(records, s.now()))
}
