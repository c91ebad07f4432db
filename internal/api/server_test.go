package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cex-arbitrage-go/internal/config"
	"cex-arbitrage-go/internal/detector"
	"cex-arbitrage-go/internal/ledger"
	"cex-arbitrage-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockExecutor struct{ mock.Mock }

func (m *mockExecutor) Execute(ctx context.Context, req models.ExecutionRequest) models.ExecutionResult {
	return m.Called(ctx, req).Get(0).(models.ExecutionResult)
}

func (m *mockExecutor) ExecuteFunding(ctx context.Context, req models.FundingRequest) models.ExecutionResult {
	return m.Called(ctx, req).Get(0).(models.ExecutionResult)
}

type mockFeed struct{ mock.Mock }

func (m *mockFeed) Latest() ([]models.Opportunity, time.Time) {
	args := m.Called()
	return args.Get(0).([]models.Opportunity), args.Get(1).(time.Time)
}

func (m *mockFeed) Trigger() { m.Called() }

func (m *mockFeed) State() detector.State {
	return m.Called().Get(0).(detector.State)
}

type mockStore struct{ mock.Mock }

func (m *mockStore) Insert(ctx context.Context, rec models.TradeRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockStore) List(ctx context.Context, f ledger.Filter) ([]models.TradeRecord, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TradeRecord), args.Error(1)
}

type fixture struct {
	exec  *mockExecutor
	feed  *mockFeed
	store *mockStore
	srv   *APIServer
}

func setupTest(t *testing.T, withFeed bool) *fixture {
	t.Helper()
	f := &fixture{exec: &mockExecutor{}, feed: &mockFeed{}, store: &mockStore{}}
	deps := Deps{
		Executor: f.exec,
		Store:    f.store,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("arbitrage_up 1\n"))
		}),
	}
	if withFeed {
		deps.Feed = f.feed
	}
	f.srv = NewAPIServer(config.Server{Port: 0}, "/metrics", models.ModeSimulation, deps, zap.NewNop())
	t.Cleanup(func() {
		f.exec.AssertExpectations(t)
		f.feed.AssertExpectations(t)
		f.store.AssertExpectations(t)
	})
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := setupTest(t, false)
	rec := f.do("GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())
}

func TestStatus_ReportsDetectorState(t *testing.T) {
	f := setupTest(t, true)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.feed.On("State").Return(detector.StatePublished)
	f.feed.On("Latest").Return([]models.Opportunity{}, at)

	rec := f.do("GET", "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "simulation", body["mode"])
	assert.Equal(t, "published", body["detector_state"])
	assert.Equal(t, f.srv.UUID, body["uuid"])
}

func TestExecute_DefaultsModeAndReturnsResult(t *testing.T) {
	f := setupTest(t, false)
	f.exec.On("Execute", mock.Anything, mock.MatchedBy(func(req models.ExecutionRequest) bool {
		return req.Symbol == "BTC" && req.Mode == models.ModeSimulation && req.BuyPrice.Equal(decimal.NewFromInt(100))
	})).Return(models.ExecutionResult{Success: true, NetProfit: decimal.RequireFromString("0.1798")})

	rec := f.do("POST", "/api/execute", `{"symbol":"BTC","buyExchange":"binance","sellExchange":"okx","buyPrice":"100","sellPrice":102}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res models.ExecutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.True(t, res.NetProfit.Equal(decimal.RequireFromString("0.1798")))
}

func TestExecute_BusinessFailureIs200InternalIs500(t *testing.T) {
	f := setupTest(t, false)
	f.exec.On("Execute", mock.Anything, mock.MatchedBy(func(req models.ExecutionRequest) bool { return req.Symbol == "ETH" })).
		Return(models.ExecutionResult{ErrorMessage: "InsufficientBalanceError: top up"})
	f.exec.On("Execute", mock.Anything, mock.MatchedBy(func(req models.ExecutionRequest) bool { return req.Symbol == "SOL" })).
		Return(models.ExecutionResult{ErrorMessage: "internal", Internal: true})

	assert.Equal(t, http.StatusOK, f.do("POST", "/api/execute", `{"symbol":"ETH"}`).Code)
	assert.Equal(t, http.StatusInternalServerError, f.do("POST", "/api/execute", `{"symbol":"SOL"}`).Code)
}

func TestExecute_RejectsMalformedBody(t *testing.T) {
	f := setupTest(t, false)
	assert.Equal(t, http.StatusBadRequest, f.do("POST", "/api/execute", `{"symbol":`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do("POST", "/api/execute", `{"unknown":1}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do("GET", "/api/execute", "").Code)
}

func TestExecuteFunding(t *testing.T) {
	f := setupTest(t, false)
	f.exec.On("ExecuteFunding", mock.Anything, mock.MatchedBy(func(req models.FundingRequest) bool {
		return req.SpotExchange == "binance" && req.FuturesExchange == "okx" && req.Mode == models.ModeReal
	})).Return(models.ExecutionResult{Success: true})

	rec := f.do("POST", "/api/execute/funding", `{"symbol":"BTC","spotExchange":"binance","futuresExchange":"okx","notional":"50","mode":"real"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOpportunities(t *testing.T) {
	f := setupTest(t, true)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.srv.now = func() time.Time { return now }
	opp := models.Opportunity{Symbol: "BTC", BuyExchange: "binance", SellExchange: "okx", RiskLevel: models.RiskLow,
		DetectedAt: now.Add(-time.Minute), ExpiresAt: now.Add(4 * time.Minute)}
	stale := models.Opportunity{Symbol: "ETH", BuyExchange: "okx", SellExchange: "binance", RiskLevel: models.RiskLow,
		DetectedAt: now.Add(-6 * time.Minute), ExpiresAt: now.Add(-time.Minute)}
	f.feed.On("Latest").Return([]models.Opportunity{opp, stale}, now.Add(-time.Minute))
	f.feed.On("State").Return(detector.StatePublished)
	f.feed.On("Trigger").Return().Once()

	rec := f.do("GET", "/api/opportunities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Opportunities []models.Opportunity `json:"opportunities"`
		State         string               `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Opportunities, 1)
	assert.Equal(t, "BTC", body.Opportunities[0].Symbol)
	assert.Equal(t, "published", body.State)

	assert.Equal(t, http.StatusAccepted, f.do("POST", "/api/opportunities/refresh", "").Code)
}

func TestOpportunities_AllExpiredIsEmptyList(t *testing.T) {
	f := setupTest(t, true)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.srv.now = func() time.Time { return now }
	expired := models.Opportunity{Symbol: "BTC", BuyExchange: "binance", SellExchange: "okx", ExpiresAt: now}
	f.feed.On("Latest").Return([]models.Opportunity{expired}, now.Add(-5*time.Minute))
	f.feed.On("State").Return(detector.StatePublished)

	rec := f.do("GET", "/api/opportunities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"opportunities":[]`)
}

func TestOpportunities_DetectorDisabled(t *testing.T) {
	f := setupTest(t, false)
	assert.Equal(t, http.StatusServiceUnavailable, f.do("GET", "/api/opportunities", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do("POST", "/api/opportunities/refresh", "").Code)
}

func TestTrades_ClampsNetProfitAndFilters(t *testing.T) {
	f := setupTest(t, false)
	rec := models.TradeRecord{ID: "t1", Symbol: "BTCUSDT", Status: models.TradeStatusCompleted, NetProfit: decimal.RequireFromString("-0.5")}
	f.store.On("List", mock.Anything, ledger.Filter{Limit: 5, Status: models.TradeStatusCompleted}).
		Return([]models.TradeRecord{rec}, nil)

	resp := f.do("GET", "/api/trades?limit=5&status=completed", "")
	require.Equal(t, http.StatusOK, resp.Code)

	var trades []map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, "0", trades[0]["netProfit"])
	assert.Equal(t, "-0.5", trades[0]["rawNetProfit"])
	assert.Equal(t, "t1", trades[0]["id"])
}

func TestTrades_BadQuery(t *testing.T) {
	f := setupTest(t, false)
	assert.Equal(t, http.StatusBadRequest, f.do("GET", "/api/trades?limit=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do("GET", "/api/trades?status=pending", "").Code)
}

func TestTrades_StoreError(t *testing.T) {
	f := setupTest(t, false)
	f.store.On("List", mock.Anything, ledger.Filter{}).Return(nil, errors.New("disk full"))
	assert.Equal(t, http.StatusInternalServerError, f.do("GET", "/api/trades", "").Code)
}

func TestStatistics(t *testing.T) {
	f := setupTest(t, false)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.srv.now = func() time.Time { return now }
	records := []models.TradeRecord{
		{ID: "a", Status: models.TradeStatusCompleted, NetProfit: decimal.NewFromInt(2), ExecutedAt: now.Add(-time.Hour)},
		{ID: "b", Status: models.TradeStatusCompleted, NetProfit: decimal.NewFromInt(-1), ExecutedAt: now.Add(-48 * time.Hour)},
		{ID: "c", Status: models.TradeStatusFailed, ExecutedAt: now.Add(-2 * time.Hour)},
	}
	f.store.On("List", mock.Anything, ledger.Filter{Limit: statisticsScanLimit}).Return(records, nil)

	resp := f.do("GET", "/api/statistics", "")
	require.Equal(t, http.StatusOK, resp.Code)

	var stats ledger.Statistics
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.AllTime.Trades)
	assert.Equal(t, 1, stats.AllTime.Failed)
	assert.True(t, stats.AllTime.WinRate.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 2, stats.Last24h.Trades)
	assert.True(t, stats.Last24h.TotalNetProfit.Equal(decimal.NewFromInt(2)))
}

func TestMetricsRoute(t *testing.T) {
	f := setupTest(t, false)
	rec := f.do("GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "arbitrage_up")
}
