package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "simulation", cfg.Mode)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 30*time.Second, cfg.Transfer.PollInterval)
	assert.Equal(t, 8*time.Minute, cfg.Transfer.FastTimeout)
	assert.True(t, cfg.Transfer.ConfirmRatio.Equal(decimal.RequireFromString("0.95")))
	assert.Equal(t, 5*time.Minute, cfg.Detector.TTL)
	assert.Equal(t, 2*time.Minute, cfg.Execution.StepTimeout)
	assert.True(t, cfg.Exchanges.Binance.TakerFee.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, cfg.Detector.Notional.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, []string{"ARBITRUM", "OPTIMISM", "BASE"}, cfg.Transfer.FastNetworks)
	assert.Equal(t, "https://api.binance.com", cfg.Exchanges.Binance.BaseURL)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_FileAndEnvOverrides(t *testing.T) {
	dir := writeConfig(t, `
mode: real
server:
  port: 9000
exchanges:
  okx:
    passphrase: from-file
    simulated: true
detector:
  interval: 10s
  symbols: [BTC, ETH]
transfer:
  networks:
    USDT: BASE
paper:
  balances:
    binance:
      USDT: 1000
`)
	t.Setenv("EXCHANGES_BINANCE_API_KEY", "env-key")
	t.Setenv("EXCHANGES_OKX_PASSPHRASE", "env-pass")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "real", cfg.Mode)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "env-key", cfg.Exchanges.Binance.APIKey)
	assert.Equal(t, "env-pass", cfg.Exchanges.OKX.Passphrase)
	assert.True(t, cfg.Exchanges.OKX.Simulated)
	assert.Equal(t, 10*time.Second, cfg.Detector.Interval)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Detector.Symbols)
	// viper lower-cases map keys.
	assert.Equal(t, "BASE", cfg.Transfer.Networks["usdt"])
	assert.True(t, cfg.Paper.Balances["binance"]["usdt"].Equal(decimal.NewFromInt(1000)))
}

func TestLoadConfig_DecimalsKeepTheirDigits(t *testing.T) {
	dir := writeConfig(t, `
exchanges:
  okx:
    taker_fee: 0.0008
execution:
  min_notional: "12.345678901234567890"
paper:
  withdraw_fees:
    BTC: 0.0002
`)
	t.Setenv("EXECUTION_FEE_RATE", "0.00075")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "0.0008", cfg.Exchanges.OKX.TakerFee.String())
	assert.Equal(t, "12.34567890123456789", cfg.Execution.MinNotional.String())
	assert.Equal(t, "0.00075", cfg.Execution.FeeRate.String())
	assert.Equal(t, "0.0002", cfg.Paper.WithdrawFees["btc"].String())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_RejectsMalformedDecimal(t *testing.T) {
	dir := writeConfig(t, `
execution:
  fee_rate: cheap
`)
	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestLoadConfig_ShippedConfigFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs"))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Detector.TTL)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("EXCHANGES_OKX_SECRET_KEY=dotenv-secret\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("EXCHANGES_OKX_SECRET_KEY") })

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "dotenv-secret", cfg.Exchanges.OKX.SecretKey)
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	dir := writeConfig(t, "mode: [unterminated")
	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "paper" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"zero poll interval", func(c *Config) { c.Transfer.PollInterval = 0 }},
		{"negative detector interval", func(c *Config) { c.Detector.Interval = -time.Second }},
		{"ratio above one", func(c *Config) { c.Transfer.ConfirmRatio = decimal.RequireFromString("1.2") }},
		{"zero safety margin", func(c *Config) { c.Execution.SafetyMargin = decimal.Zero }},
		{"fee rate of one", func(c *Config) { c.Execution.FeeRate = decimal.NewFromInt(1) }},
		{"negative taker fee", func(c *Config) { c.Exchanges.OKX.TakerFee = decimal.RequireFromString("-0.001") }},
		{"zero step timeout", func(c *Config) { c.Execution.StepTimeout = 0 }},
		{"inverted spread window", func(c *Config) { c.Detector.MaxSpread = c.Detector.MinSpread }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
