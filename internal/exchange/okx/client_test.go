package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"cex-arbitrage-go/internal/apperror"
	"cex-arbitrage-go/internal/exchange"
	"cex-arbitrage-go/internal/retry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testKey        = "okx_key"
	testSecret     = "okx_secret"
	testPassphrase = "okx_pass"
)

// setupTestServer creates a new test server and a Client configured to use it.
func setupTestServer(handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	c := New(Config{
		APIKey:     testKey,
		SecretKey:  testSecret,
		Passphrase: testPassphrase,
		BaseURL:    server.URL,
		Simulated:  true,
		Transport: exchange.TransportConfig{
			Retry:       retry.Policy{Attempts: 3, BaseDelay: time.Millisecond, Multiplier: 2},
			OpenTimeout: time.Minute,
		},
	}, nil, zap.NewNop())
	c.fillWait = time.Millisecond
	return c, server
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

// verifySignature recomputes OK-ACCESS-SIGN from the received request.
func verifySignature(t *testing.T, r *http.Request, body []byte) {
	t.Helper()
	ts := r.Header.Get("OK-ACCESS-TIMESTAMP")
	_, err := time.Parse(timestampLayout, ts)
	require.NoError(t, err)
	assert.Equal(t, testKey, r.Header.Get("OK-ACCESS-KEY"))
	assert.Equal(t, testPassphrase, r.Header.Get("OK-ACCESS-PASSPHRASE"))
	assert.Equal(t, "1", r.Header.Get("x-simulated-trading"))

	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(ts + r.Method + r.URL.RequestURI() + string(body)))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), r.Header.Get("OK-ACCESS-SIGN"))
}

func TestGetPrices(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/market/tickers", r.URL.Path)
		assert.Equal(t, "SPOT", r.URL.Query().Get("instType"))
		writeJSON(w, `{"code":"0","msg":"","data":[{"instId":"BTC-USDT","last":"65010.2"},{"instId":"ETH-USDC","last":"3001"}]}`)
	})
	c, server := setupTestServer(handler)
	defer server.Close()

	prices, err := c.GetPrices(context.Background())
	require.NoError(t, err)
	assert.True(t, prices[exchange.NewPair("BTC", "USDT")].Equal(decimal.RequireFromString("65010.2")))
	assert.True(t, prices[exchange.NewPair("ETH", "USDC")].Equal(decimal.NewFromInt(3001)))
}

func TestGetBalance_Signed(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/account/balance", r.URL.Path)
		verifySignature(t, r, nil)
		writeJSON(w, `{"code":"0","data":[{"details":[{"ccy":"USDT","availBal":"250.75","frozenBal":"1"}]}]}`)
	})
	c, server := setupTestServer(handler)
	defer server.Close()

	bal, err := c.GetBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.Equal(t, Name, bal.Exchange)
	assert.True(t, bal.Available.Equal(decimal.RequireFromString("250.75")))
	assert.True(t, bal.Locked.Equal(decimal.NewFromInt(1)))
}

func TestPlaceMarketOrder(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v5/public/instruments":
			writeJSON(w, `{"code":"0","data":[{"instId":"BTC-USDT","lotSz":"0.0001","minSz":"0.0001"}]}`)
		case r.URL.Path == "/api/v5/trade/order" && r.Method == http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			verifySignature(t, r, body)
			var req orderRequest
			require.NoError(t, json.Unmarshal(body, &req))
			assert.Equal(t, "BTC-USDT", req.InstID)
			assert.Equal(t, "cash", req.TdMode)
			assert.Equal(t, "sell", req.Side)
			assert.Equal(t, "base_ccy", req.TgtCcy)
			assert.Equal(t, "0.1234", req.Sz)
			writeJSON(w, `{"code":"0","data":[{"ordId":"777","sCode":"0"}]}`)
		case r.URL.Path == "/api/v5/trade/order" && r.Method == http.MethodGet:
			assert.Equal(t, "777", r.URL.Query().Get("ordId"))
			writeJSON(w, `{"code":"0","data":[{"ordId":"777","state":"filled","accFillSz":"0.1234","avgPx":"101"}]}`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	c, server := setupTestServer(handler)
	defer server.Close()

	res, err := c.PlaceMarketOrder(context.Background(), exchange.OrderRequest{
		Pair:     exchange.NewPair("BTC", "USDT"),
		Side:     exchange.SideSell,
		Quantity: decimal.RequireFromString("0.123456"),
	})
	require.NoError(t, err)
	assert.Equal(t, "777", res.OrderID)
	assert.True(t, res.ExecutedQty.Equal(decimal.RequireFromString("0.1234")))
	assert.True(t, res.AvgPrice.Equal(decimal.NewFromInt(101)))
}

func TestPlaceMarketOrder_NetsBaseCommission(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v5/public/instruments":
			writeJSON(w, `{"code":"0","data":[{"instId":"BTC-USDT","lotSz":"0.0001","minSz":"0.0001"}]}`)
		case r.URL.Path == "/api/v5/trade/order" && r.Method == http.MethodPost:
			writeJSON(w, `{"code":"0","data":[{"ordId":"778","sCode":"0"}]}`)
		case r.URL.Path == "/api/v5/trade/order" && r.Method == http.MethodGet:
			writeJSON(w, `{"code":"0","data":[{"ordId":"778","state":"filled","accFillSz":"0.2","avgPx":"100","fee":"-0.0002","feeCcy":"BTC"}]}`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	c, server := setupTestServer(handler)
	defer server.Close()

	res, err := c.PlaceMarketOrder(context.Background(), exchange.OrderRequest{
		Pair:     exchange.NewPair("BTC", "USDT"),
		Side:     exchange.SideBuy,
		Quantity: decimal.RequireFromString("0.2"),
	})
	require.NoError(t, err)
	assert.Equal(t, "BTC", res.CommissionAsset)
	assert.True(t, res.Commission.Equal(decimal.RequireFromString("0.0002")), res.Commission.String())
	assert.True(t, res.ExecutedQty.Equal(decimal.RequireFromString("0.1998")), res.ExecutedQty.String())
	assert.True(t, res.QuoteQty.Equal(decimal.NewFromInt(20)))
}

func TestPlaceFuturesMarketOrder_ConvertsToContracts(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v5/public/instruments":
			assert.Equal(t, "SWAP", r.URL.Query().Get("instType"))
			writeJSON(w, `{"code":"0","data":[{"instId":"BTC-USDT-SWAP","lotSz":"0.01","minSz":"0.01","ctVal":"0.01"}]}`)
		case r.Method == http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			var req orderRequest
			require.NoError(t, json.Unmarshal(body, &req))
			assert.Equal(t, "BTC-USDT-SWAP", req.InstID)
			assert.Equal(t, "cross", req.TdMode)
			assert.Equal(t, "12.34", req.Sz)
			writeJSON(w, `{"code":"0","data":[{"ordId":"9","sCode":"0"}]}`)
		default:
			writeJSON(w, `{"code":"0","data":[{"ordId":"9","state":"filled","accFillSz":"12.34","avgPx":"100"}]}`)
		}
	})
	c, server := setupTestServer(handler)
	defer server.Close()

	res, err := c.PlaceFuturesMarketOrder(context.Background(), exchange.OrderRequest{
		Pair:     exchange.NewPair("BTC", "USDT"),
		Side:     exchange.SideSell,
		Quantity: decimal.RequireFromString("0.123456"),
	})
	require.NoError(t, err)
	assert.True(t, res.ExecutedQty.Equal(decimal.RequireFromString("0.1234")), "got %s", res.ExecutedQty)
}

func TestWithdraw_AddressBookRejection(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"code":"58207","msg":"Withdrawal address is not whitelisted for verification exemption","data":[]}`)
	})
	c, server := setupTestServer(handler)
	defer server.Close()

	_, err := c.Withdraw(context.Background(), exchange.WithdrawRequest{
		Asset: "USDT", Network: "USDT-Arbitrum One", Address: "0xabc", Amount: decimal.NewFromInt(10),
	})
	require.Error(t, err)
	assert.Equal(t, apperror.KindAllowlistBlocked, apperror.KindOf(err))
	assert.Equal(t, Name, apperror.ExchangeOf(err))
}

func TestOrderItemErrorIsClassified(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v5/public/instruments" {
			writeJSON(w, `{"code":"0","data":[{"instId":"BTC-USDT","lotSz":"0.0001","minSz":"0.0001"}]}`)
			return
		}
		writeJSON(w, `{"code":"1","msg":"All operations failed","data":[{"ordId":"","sCode":"51008","sMsg":"Order failed. Insufficient USDT balance in account"}]}`)
	})
	c, server := setupTestServer(handler)
	defer server.Close()

	_, err := c.PlaceMarketOrder(context.Background(), exchange.OrderRequest{
		Pair: exchange.NewPair("BTC", "USDT"), Side: exchange.SideBuy, Quantity: decimal.NewFromInt(1),
	})
	assert.Equal(t, apperror.KindInsufficientBalance, apperror.KindOf(err))
}

func TestExpiredTimestampIsAuthenticationError(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"50102","msg":"Timestamp request expired","data":[]}`))
	})
	c, server := setupTestServer(handler)
	defer server.Close()

	_, err := c.GetBalance(context.Background(), "USDT")
	assert.Equal(t, apperror.KindAuthentication, apperror.KindOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFundingMoveAndBalance(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v5/asset/transfer":
			body, _ := io.ReadAll(r.Body)
			verifySignature(t, r, body)
			var req transferRequest
			require.NoError(t, json.Unmarshal(body, &req))
			assert.Equal(t, accountTrading, req.From)
			assert.Equal(t, accountFunding, req.To)
			assert.Equal(t, "10", req.Amt)
			writeJSON(w, `{"code":"0","data":[{"transId":"1"}]}`)
		case "/api/v5/asset/balances":
			writeJSON(w, `{"code":"0","data":[{"ccy":"USDT","availBal":"10"}]}`)
		}
	})
	c, server := setupTestServer(handler)
	defer server.Close()

	require.NoError(t, c.MoveToFunding(context.Background(), "usdt", decimal.NewFromInt(10)))
	bal, err := c.FundingBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(10)))
}

func TestMoveToTrading(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/asset/transfer", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		verifySignature(t, r, body)
		var req transferRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "BTC", req.Ccy)
		assert.Equal(t, accountFunding, req.From)
		assert.Equal(t, accountTrading, req.To)
		assert.Equal(t, "0.25", req.Amt)
		writeJSON(w, `{"code":"0","data":[{"transId":"2"}]}`)
	})
	c, server := setupTestServer(handler)
	defer server.Close()

	require.NoError(t, c.MoveToTrading(context.Background(), "btc", decimal.RequireFromString("0.25")))
}

func TestGetDepositAddress(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"code":"0","data":[{"ccy":"USDT","chain":"USDT-TRC20","addr":"TXYZ"},{"ccy":"USDT","chain":"USDT-Arbitrum One","addr":"0x1111111111111111111111111111111111111111"}]}`)
	})
	c, server := setupTestServer(handler)
	defer server.Close()

	addr, err := c.GetDepositAddress(context.Background(), "USDT", "USDT-Arbitrum One")
	require.NoError(t, err)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", addr.Address)

	_, err = c.GetDepositAddress(context.Background(), "USDT", "USDT-Polygon")
	assert.Equal(t, apperror.KindConfiguration, apperror.KindOf(err))
}
