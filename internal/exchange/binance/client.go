// Package binance implements the exchange adapter for Binance spot, wallet (SAPI)
// and USDⓈ-M futures endpoints.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"cex-arbitrage-go/internal/apperror"
	"cex-arbitrage-go/internal/exchange"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	Name = "binance"

	baseURL         = "https://api.binance.com"
	futuresBaseURL  = "https://fapi.binance.com"
	recvWindow      = "5000" // How long a request is valid in milliseconds
	orderTypeMarket = "MARKET"
)

// Config holds credentials and endpoints for one Binance account.
type Config struct {
	APIKey         string
	SecretKey      string
	BaseURL        string
	FuturesBaseURL string
	Transport      exchange.TransportConfig
}

// String redacts credentials so Config is safe to log.
func (c Config) String() string {
	return fmt.Sprintf("binance{base_url=%s, api_key=%s}", c.BaseURL, redact(c.APIKey))
}

func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}

// Client is the Binance adapter.
type Client struct {
	spot      *exchange.Transport
	futures   *exchange.Transport
	apiKey    string
	secretKey string
	logger    *zap.Logger
	now       func() time.Time

	mu           sync.RWMutex
	symbols      map[string]symbolInfo // by exchange symbol, e.g. BTCUSDT
	pairs        map[exchange.Pair]string
	futuresRules map[string]exchange.SymbolRules
}

var (
	_ exchange.Adapter       = (*Client)(nil)
	_ exchange.FuturesTrader = (*Client)(nil)
)

type symbolInfo struct {
	pair  exchange.Pair
	rules exchange.SymbolRules
}

// New creates a Binance adapter.
func New(cfg Config, observer exchange.Observer, logger *zap.Logger) *Client {
	spotCfg := cfg.Transport
	spotCfg.Name = Name
	spotCfg.BaseURL = cfg.BaseURL
	if spotCfg.BaseURL == "" {
		spotCfg.BaseURL = baseURL
	}
	futCfg := cfg.Transport
	futCfg.Name = Name + "-futures"
	futCfg.BaseURL = cfg.FuturesBaseURL
	if futCfg.BaseURL == "" {
		futCfg.BaseURL = futuresBaseURL
	}

	logger = logger.Named(Name)
	logger.Info("Using Binance API", zap.String("base_url", spotCfg.BaseURL), zap.Bool("credentials", cfg.APIKey != ""))

	return &Client{
		spot:      exchange.NewTransport(spotCfg, decodeError, observer, logger),
		futures:   exchange.NewTransport(futCfg, decodeError, observer, logger),
		apiKey:    cfg.APIKey,
		secretKey: cfg.SecretKey,
		logger:    logger,
		now:       time.Now,
	}
}

func (c *Client) Name() string { return Name }

func (c *Client) HasCredentials() bool {
	return c.apiKey != "" && c.secretKey != ""
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *Client) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// signed returns a builder that stamps params with a fresh timestamp and
// signature on every attempt. GET/DELETE send the query string, others a form body.
func (c *Client) signed(method, path string, params url.Values, result any) exchange.RequestBuilder {
	return func(req *resty.Request) error {
		if !c.HasCredentials() {
			return apperror.Authentication(Name, "API key and secret are not configured")
		}
		p := url.Values{}
		for k, v := range params {
			p[k] = v
		}
		p.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		p.Set("recvWindow", recvWindow)

		queryString := p.Encode()
		payload := queryString + "&signature=" + c.sign(queryString)

		req.SetHeader("X-MBX-APIKEY", c.apiKey)
		if method == http.MethodGet || method == http.MethodDelete {
			req.URL = path + "?" + payload
		} else {
			req.SetHeader("Content-Type", "application/x-www-form-urlencoded").SetBody(payload)
		}
		if result != nil {
			req.SetResult(result)
		}
		return nil
	}
}

// private performs a signed request against t.
func (c *Client) private(ctx context.Context, t *exchange.Transport, op, method, path string, params url.Values, result any) error {
	_, err := t.Do(ctx, op, method, path, c.signed(method, path, params, result))
	return err
}

func public(params url.Values, result any) exchange.RequestBuilder {
	return func(req *resty.Request) error {
		if len(params) > 0 {
			req.SetQueryString(params.Encode())
		}
		req.SetResult(result)
		return nil
	}
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// decodeError maps Binance {code,msg} bodies to typed errors.
func decodeError(status int, body []byte) *apperror.Error {
	if status < http.StatusBadRequest {
		return nil
	}
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || e.Code == 0 {
		return apperror.ClassifyMessage(Name, status, "", string(body))
	}
	code := strconv.Itoa(e.Code)
	switch e.Code {
	case -2014, -2015, -1022, -1021, -1002:
		return apperror.Authentication(Name, code+": "+e.Msg)
	case -1003, -1015:
		return apperror.Transient(Name, code+": "+e.Msg)
	case -2010:
		classified := apperror.ClassifyMessage(Name, status, code, e.Msg)
		if classified.Kind == apperror.KindInsufficientBalance || classified.Kind == apperror.KindAllowlistBlocked {
			return classified
		}
		return apperror.OrderRejected("", code+": "+e.Msg, apperror.WithExchange(Name))
	}
	return apperror.ClassifyMessage(Name, status, code, e.Msg)
}
