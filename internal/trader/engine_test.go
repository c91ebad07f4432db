package trader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cex-arbitrage-go/internal/config"
	"cex-arbitrage-go/internal/ledger"
	"cex-arbitrage-go/internal/lock"
	"cex-arbitrage-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func simulationConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Database.DSN = filepath.Join(t.TempDir(), "ledger.db")
	cfg.Detector.Enabled = false
	cfg.Paper.LivePrices = false
	cfg.Paper.Balances = map[string]map[string]decimal.Decimal{
		"binance": {"usdt": decimal.NewFromInt(1000)},
	}
	cfg.Transfer.PollInterval = time.Millisecond
	cfg.Transfer.FastTimeout = 200 * time.Millisecond
	cfg.Transfer.SlowTimeout = 200 * time.Millisecond
	cfg.Execution.MinNotional = decimal.NewFromInt(5)
	require.NoError(t, cfg.Validate())
	return &cfg
}

func setupTest(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), zap.NewNop(), simulationConfig(t))
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestNewEngine_Wiring(t *testing.T) {
	e := setupTest(t)

	assert.Nil(t, e.Detector)
	for _, name := range []string{"binance", "okx"} {
		_, err := e.Live.Get(name)
		assert.NoError(t, err)
		_, err = e.Paper.Get(name)
		assert.NoError(t, err)
	}
	assert.True(t, e.Market.Balance("binance", "USDT").Equal(decimal.NewFromInt(1000)))
}

func TestEngine_SimulatedExecutionIsRecorded(t *testing.T) {
	e := setupTest(t)
	h := e.Server.Handler()

	body := `{"symbol":"BTC","buyExchange":"binance","sellExchange":"okx","buyPrice":"100","sellPrice":"102","notional":"10"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/execute", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var res models.ExecutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.Success, res.ErrorMessage)
	// Paper venues charge the configured 0.1% taker fee: 0.0001 BTC on the
	// buy, 0.0101898 USDT on the sell of the remaining 0.0999 BTC.
	assert.True(t, res.NetProfit.Equal(decimal.RequireFromString("0.1796102")), res.NetProfit.String())
	assert.True(t, res.ExecutionDetails.Quantity.Equal(decimal.RequireFromString("0.0999")))

	records, err := e.Store.List(context.Background(), ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.TradeStatusCompleted, records[0].Status)
	assert.Equal(t, models.ModeSimulation, records[0].Mode)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `arbitrage_executions_total{kind="",mode="simulation",status="completed",strategy="spot"} 1`)
}

func TestEngine_RealModeWithoutCredentialsFails(t *testing.T) {
	e := setupTest(t)

	body := `{"symbol":"BTC","buyExchange":"binance","sellExchange":"okx","buyPrice":"100","sellPrice":"102","mode":"real"}`
	rec := httptest.NewRecorder()
	e.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/execute", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var res models.ExecutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Equal(t, "AuthenticationError", res.ExecutionDetails.ErrorKind)
}

func TestNewLocker_DefaultsToMemory(t *testing.T) {
	l, closeFn, err := NewLocker(context.Background(), config.Redis{}, zap.NewNop())
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &lock.MemoryLocker{}, l)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := simulationConfig(t)
	cfg.Server.Port = 18089
	e, err := NewEngine(context.Background(), zap.NewNop(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(finished)
	}()
	cancel()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}
