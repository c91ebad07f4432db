package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Mode      string    `mapstructure:"mode"`
	Server    Server    `mapstructure:"server"`
	Logger    Logger    `mapstructure:"logger"`
	Database  Database  `mapstructure:"database"`
	Redis     Redis     `mapstructure:"redis"`
	Exchanges Exchanges `mapstructure:"exchanges"`
	Retry     Retry     `mapstructure:"retry"`
	Breaker   Breaker   `mapstructure:"breaker"`
	Detector  Detector  `mapstructure:"detector"`
	Execution Execution `mapstructure:"execution"`
	Transfer  Transfer  `mapstructure:"transfer"`
	Funding   Funding   `mapstructure:"funding"`
	Paper     Paper     `mapstructure:"paper"`
	Metrics   Metrics   `mapstructure:"metrics"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Database selects the ledger backend: sqlite through gorm or postgres through pgx.
type Database struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Redis enables the shared capital lock when Addr is set.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Exchanges struct {
	Binance Binance `mapstructure:"binance"`
	OKX     OKX     `mapstructure:"okx"`
}

// Binance holds the configuration for the Binance API.
type Binance struct {
	APIKey         string          `mapstructure:"api_key"`
	SecretKey      string          `mapstructure:"secret_key"`
	BaseURL        string          `mapstructure:"base_url"`
	FuturesBaseURL string          `mapstructure:"futures_base_url"`
	Timeout        time.Duration   `mapstructure:"timeout"`
	RateLimit      float64         `mapstructure:"rate_limit"`
	RateLimitBurst int             `mapstructure:"rate_limit_burst"`
	TakerFee       decimal.Decimal `mapstructure:"taker_fee"`
}

// OKX holds the configuration for the OKX v5 API.
type OKX struct {
	APIKey         string          `mapstructure:"api_key"`
	SecretKey      string          `mapstructure:"secret_key"`
	Passphrase     string          `mapstructure:"passphrase"`
	BaseURL        string          `mapstructure:"base_url"`
	Simulated      bool            `mapstructure:"simulated"`
	Timeout        time.Duration   `mapstructure:"timeout"`
	RateLimit      float64         `mapstructure:"rate_limit"`
	RateLimitBurst int             `mapstructure:"rate_limit_burst"`
	TakerFee       decimal.Decimal `mapstructure:"taker_fee"`
}

type Retry struct {
	Attempts   int           `mapstructure:"attempts"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

type Breaker struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// Detector holds the opportunity scan settings.
type Detector struct {
	Enabled      bool            `mapstructure:"enabled"`
	Interval     time.Duration   `mapstructure:"interval"`
	FetchTimeout time.Duration   `mapstructure:"fetch_timeout"`
	TTL          time.Duration   `mapstructure:"ttl"`
	Notional     decimal.Decimal `mapstructure:"notional"`
	FeeRate      decimal.Decimal `mapstructure:"fee_rate"`
	MinSpread    decimal.Decimal `mapstructure:"min_spread"`
	MaxSpread    decimal.Decimal `mapstructure:"max_spread"`
	MinProfit    decimal.Decimal `mapstructure:"min_profit"`
	MaxResults   int             `mapstructure:"max_results"`
	QuoteAsset   string          `mapstructure:"quote_asset"`
	Symbols      []string        `mapstructure:"symbols"`
}

// Execution holds orchestrator defaults; requests may override the risk values.
type Execution struct {
	FeeRate        decimal.Decimal `mapstructure:"fee_rate"`
	MaxSlippage    decimal.Decimal `mapstructure:"max_slippage"`
	StopLoss       decimal.Decimal `mapstructure:"stop_loss"`
	SafetyMargin   decimal.Decimal `mapstructure:"safety_margin"`
	MinNotional    decimal.Decimal `mapstructure:"min_notional"`
	QuoteAsset     string          `mapstructure:"quote_asset"`
	MaxSpreadDrift decimal.Decimal `mapstructure:"max_spread_drift"`
	LockTTL        time.Duration   `mapstructure:"lock_ttl"`
	StepTimeout    time.Duration   `mapstructure:"step_timeout"`
}

// Transfer holds on-chain transfer settings. Networks maps asset to a preferred network.
type Transfer struct {
	PollInterval     time.Duration     `mapstructure:"poll_interval"`
	FastTimeout      time.Duration     `mapstructure:"fast_timeout"`
	SlowTimeout      time.Duration     `mapstructure:"slow_timeout"`
	ConfirmRatio     decimal.Decimal   `mapstructure:"confirm_ratio"`
	FastNetworks     []string          `mapstructure:"fast_networks"`
	Priority         []string          `mapstructure:"priority"`
	MultiChainAssets []string          `mapstructure:"multichain_assets"`
	Networks         map[string]string `mapstructure:"networks"`
}

type Funding struct {
	FuturesPrimary  string `mapstructure:"futures_primary"`
	FuturesFallback string `mapstructure:"futures_fallback"`
}

// Paper configures the simulated venues. Balances maps exchange -> asset -> amount.
type Paper struct {
	LivePrices   bool                                  `mapstructure:"live_prices"`
	WithdrawFees map[string]decimal.Decimal            `mapstructure:"withdraw_fees"`
	Balances     map[string]map[string]decimal.Decimal `mapstructure:"balances"`
}

type Metrics struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoadConfig reads config.yml from path, then applies environment overrides
// (exchanges.binance.api_key => EXCHANGES_BINANCE_API_KEY). A .env file in
// path or the working directory is loaded first so secrets can live outside
// the YAML. A missing config file is not an error.
func LoadConfig(path string) (config Config, err error) {
	_ = godotenv.Load(filepath.Join(path, ".env"))
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("failed to read config: %w", err)
		}
	}

	hooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		decimalHook,
	)
	if err = v.Unmarshal(&config, viper.DecodeHook(hooks)); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}
	return config, nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHook decodes amounts and rates from YAML numbers or strings without
// going through binary floating point.
func decimalHook(from, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	case float64:
		return decimal.NewFromString(strconv.FormatFloat(v, 'f', -1, 64))
	case float32:
		return decimal.NewFromString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case decimal.Decimal:
		return v, nil
	}
	return nil, fmt.Errorf("cannot decode %s into a decimal", from)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "simulation")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "45m") // a real execution waits for on-chain confirmation

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "arbitrage.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Secrets default to empty so environment overrides are picked up.
	v.SetDefault("exchanges.binance.api_key", "")
	v.SetDefault("exchanges.binance.secret_key", "")
	v.SetDefault("exchanges.binance.base_url", "https://api.binance.com")
	v.SetDefault("exchanges.binance.futures_base_url", "https://fapi.binance.com")
	v.SetDefault("exchanges.binance.timeout", "10s")
	v.SetDefault("exchanges.binance.rate_limit", 20)      // requests per second
	v.SetDefault("exchanges.binance.rate_limit_burst", 5) // burst size
	v.SetDefault("exchanges.binance.taker_fee", "0.001")

	v.SetDefault("exchanges.okx.api_key", "")
	v.SetDefault("exchanges.okx.secret_key", "")
	v.SetDefault("exchanges.okx.passphrase", "")
	v.SetDefault("exchanges.okx.base_url", "https://www.okx.com")
	v.SetDefault("exchanges.okx.simulated", false)
	v.SetDefault("exchanges.okx.timeout", "10s")
	v.SetDefault("exchanges.okx.rate_limit", 10)
	v.SetDefault("exchanges.okx.rate_limit_burst", 5)
	v.SetDefault("exchanges.okx.taker_fee", "0.001")

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay", "10s")

	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.open_timeout", "30s")

	v.SetDefault("detector.enabled", true)
	v.SetDefault("detector.interval", "30s")
	v.SetDefault("detector.fetch_timeout", "5s")
	v.SetDefault("detector.ttl", "5m")
	v.SetDefault("detector.notional", "1000")
	v.SetDefault("detector.fee_rate", "0.002") // both legs
	v.SetDefault("detector.min_spread", "0.1")
	v.SetDefault("detector.max_spread", "10")
	v.SetDefault("detector.min_profit", "1")
	v.SetDefault("detector.max_results", 50)
	v.SetDefault("detector.quote_asset", "USDT")
	v.SetDefault("detector.symbols", []string{})

	v.SetDefault("execution.fee_rate", "0.001")
	v.SetDefault("execution.max_slippage", "0.5")
	v.SetDefault("execution.stop_loss", "2")
	v.SetDefault("execution.safety_margin", "0.95")
	v.SetDefault("execution.min_notional", "10")
	v.SetDefault("execution.quote_asset", "USDT")
	v.SetDefault("execution.max_spread_drift", "0.5")
	v.SetDefault("execution.lock_ttl", "45m")
	v.SetDefault("execution.step_timeout", "2m")

	v.SetDefault("transfer.poll_interval", "30s")
	v.SetDefault("transfer.fast_timeout", "8m")
	v.SetDefault("transfer.slow_timeout", "30m")
	v.SetDefault("transfer.confirm_ratio", "0.95")
	v.SetDefault("transfer.fast_networks", []string{"ARBITRUM", "OPTIMISM", "BASE"})

	v.SetDefault("funding.futures_primary", "okx")
	v.SetDefault("funding.futures_fallback", "binance")

	v.SetDefault("paper.live_prices", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Mode {
	case "simulation", "real":
	default:
		return fmt.Errorf("mode must be simulation or real, got %q", c.Mode)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	durations := map[string]time.Duration{
		"detector.interval":      c.Detector.Interval,
		"detector.fetch_timeout": c.Detector.FetchTimeout,
		"detector.ttl":           c.Detector.TTL,
		"transfer.poll_interval": c.Transfer.PollInterval,
		"transfer.fast_timeout":  c.Transfer.FastTimeout,
		"transfer.slow_timeout":  c.Transfer.SlowTimeout,
		"execution.lock_ttl":     c.Execution.LockTTL,
		"execution.step_timeout": c.Execution.StepTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	one := decimal.NewFromInt(1)
	ratios := map[string]decimal.Decimal{
		"transfer.confirm_ratio":  c.Transfer.ConfirmRatio,
		"execution.safety_margin": c.Execution.SafetyMargin,
	}
	for name, r := range ratios {
		if !r.IsPositive() || r.GreaterThan(one) {
			return fmt.Errorf("%s must be in (0, 1], got %s", name, r)
		}
	}

	fees := map[string]decimal.Decimal{
		"execution.fee_rate":          c.Execution.FeeRate,
		"detector.fee_rate":           c.Detector.FeeRate,
		"exchanges.binance.taker_fee": c.Exchanges.Binance.TakerFee,
		"exchanges.okx.taker_fee":     c.Exchanges.OKX.TakerFee,
	}
	for name, f := range fees {
		if f.IsNegative() || f.GreaterThanOrEqual(one) {
			return fmt.Errorf("%s must be in [0, 1), got %s", name, f)
		}
	}

	if !c.Detector.MaxSpread.GreaterThan(c.Detector.MinSpread) {
		return fmt.Errorf("detector.max_spread must exceed detector.min_spread")
	}
	if !c.Detector.Notional.IsPositive() {
		return fmt.Errorf("detector.notional must be positive")
	}
	return nil
}
