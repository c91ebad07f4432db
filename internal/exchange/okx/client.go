// Package okx implements the exchange adapter for the OKX v5 REST API.
package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"cex-arbitrage-go/internal/apperror"
	"cex-arbitrage-go/internal/exchange"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	Name = "okx"

	baseURL         = "https://www.okx.com"
	timestampLayout = "2006-01-02T15:04:05.000Z"

	accountTrading = "18"
	accountFunding = "6"
	destOnChain    = "4"
)

// Config holds credentials and endpoints for one OKX account.
type Config struct {
	APIKey     string
	SecretKey  string
	Passphrase string
	BaseURL    string
	// Simulated routes requests to the demo trading environment.
	Simulated bool
	Transport exchange.TransportConfig
}

// String redacts credentials so Config is safe to log.
func (c Config) String() string {
	key := "****"
	if len(c.APIKey) > 4 {
		key = c.APIKey[:4] + "****"
	}
	return fmt.Sprintf("okx{base_url=%s, simulated=%t, api_key=%s}", c.BaseURL, c.Simulated, key)
}

// Client is the OKX adapter.
type Client struct {
	transport  *exchange.Transport
	apiKey     string
	secretKey  string
	passphrase string
	simulated  bool
	logger     *zap.Logger
	now        func() time.Time

	// order fill lookup after placement
	fillChecks int
	fillWait   time.Duration

	mu          sync.RWMutex
	instruments map[string]instrument
}

var (
	_ exchange.Adapter        = (*Client)(nil)
	_ exchange.FundingAccount = (*Client)(nil)
	_ exchange.FuturesTrader  = (*Client)(nil)
)

// New creates an OKX adapter.
func New(cfg Config, observer exchange.Observer, logger *zap.Logger) *Client {
	tcfg := cfg.Transport
	tcfg.Name = Name
	tcfg.BaseURL = cfg.BaseURL
	if tcfg.BaseURL == "" {
		tcfg.BaseURL = baseURL
	}

	logger = logger.Named(Name)
	if cfg.Simulated {
		logger.Warn("Using OKX demo trading")
	} else {
		logger.Info("Using OKX production API", zap.String("base_url", tcfg.BaseURL))
	}

	return &Client{
		transport:   exchange.NewTransport(tcfg, decodeError, observer, logger),
		apiKey:      cfg.APIKey,
		secretKey:   cfg.SecretKey,
		passphrase:  cfg.Passphrase,
		simulated:   cfg.Simulated,
		logger:      logger,
		now:         time.Now,
		fillChecks:  5,
		fillWait:    300 * time.Millisecond,
		instruments: make(map[string]instrument),
	}
}

func (c *Client) Name() string { return Name }

func (c *Client) HasCredentials() bool {
	return c.apiKey != "" && c.secretKey != "" && c.passphrase != ""
}

// sign returns base64(HMAC-SHA256(timestamp + method + requestPath + body)).
func (c *Client) sign(timestamp, method, requestPath, body string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// envelope is the common OKX response wrapper.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// itemStatus carries per-item results on order, transfer and withdrawal endpoints.
type itemStatus struct {
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

func withQuery(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}

// call performs a request and decodes the data array into out.
func (c *Client) call(ctx context.Context, op, method, path string, params url.Values, body any, private bool, out any) error {
	requestPath := withQuery(path, params)

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encoding %s body: %w", op, err)
		}
	}

	var env envelope
	build := func(req *resty.Request) error {
		if private {
			if !c.HasCredentials() {
				return apperror.Authentication(Name, "API key, secret and passphrase are not configured")
			}
			ts := c.now().UTC().Format(timestampLayout)
			req.SetHeader("OK-ACCESS-KEY", c.apiKey).
				SetHeader("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, string(payload))).
				SetHeader("OK-ACCESS-TIMESTAMP", ts).
				SetHeader("OK-ACCESS-PASSPHRASE", c.passphrase)
		}
		if c.simulated {
			req.SetHeader("x-simulated-trading", "1")
		}
		if payload != nil {
			req.SetHeader("Content-Type", "application/json").SetBody(payload)
		}
		req.SetResult(&env)
		return nil
	}

	if _, err := c.transport.Do(ctx, op, method, requestPath, build); err != nil {
		return err
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", op, err)
	}
	return nil
}

// decodeError maps OKX code/msg envelopes, including 200 responses with code != "0".
func decodeError(status int, body []byte) *apperror.Error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if status >= http.StatusBadRequest {
			return apperror.ClassifyMessage(Name, status, "", string(bytes.TrimSpace(body)))
		}
		return nil
	}
	if env.Code == "0" || (env.Code == "" && status < http.StatusBadRequest) {
		return nil
	}

	code, msg := env.Code, env.Msg
	// batch-style endpoints report the real failure per item
	var items []itemStatus
	if json.Unmarshal(env.Data, &items) == nil && len(items) > 0 && items[0].SCode != "" && items[0].SCode != "0" {
		code, msg = items[0].SCode, items[0].SMsg
	}
	return classifyCode(status, code, msg)
}

func classifyCode(status int, code, msg string) *apperror.Error {
	text := code + ": " + msg
	switch code {
	case "50102", "50103", "50104", "50105", "50111", "50112", "50113", "50114":
		return apperror.Authentication(Name, text)
	case "50001", "50004", "50011", "50013", "50026":
		return apperror.Transient(Name, text)
	case "51008", "58350":
		return apperror.InsufficientBalance(Name, text)
	case "58207":
		return apperror.AllowlistBlocked(Name, text)
	case "51020":
		return apperror.OrderRejected("MIN_NOTIONAL", text, apperror.WithExchange(Name))
	case "51121":
		return apperror.OrderRejected("LOT_SIZE", text, apperror.WithExchange(Name))
	case "51001":
		return apperror.OrderRejected("symbol", text, apperror.WithExchange(Name))
	}
	return apperror.ClassifyMessage(Name, status, code, msg)
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func instID(p exchange.Pair) string {
	return p.Base + "-" + p.Quote
}

func swapInstID(p exchange.Pair) string {
	return instID(p) + "-SWAP"
}
