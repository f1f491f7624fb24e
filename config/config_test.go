package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/autopilot"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/strategy"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "trader.yaml", `
binance:
  mock_mode: true
trading:
  total_capital: 500
  symbols: [btcusdt, " ethusdt ", BTCUSDT]
  take_profit_percent: 4
  stop_loss_percent: 2
  quantity_per_trade: 25
  strategy: momentum
  cooldown: 90s
  scan_interval: 5s
  early_exit:
    enabled: false
risk:
  circuit_breaker:
    loss_streak_limit: 4
database:
  driver: sqlite
  sqlite_path: /tmp/trades.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	s := cfg.Session()
	assert.Equal(t, 500.0, s.TotalCapital)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, s.Symbols)
	assert.Equal(t, 25.0, s.QuantityPerTrade)
	assert.Equal(t, 4.0, s.TakeProfitPercent)
	assert.Equal(t, strategy.MomentumName, s.Strategy)
	assert.Equal(t, 90*time.Second, s.Cooldown)
	assert.Equal(t, 5*time.Second, s.ScanInterval)
	assert.False(t, s.EarlyExit.Enabled)
	assert.Equal(t, 4, s.Breaker.LossStreakLimit)
	assert.Equal(t, "sqlite", cfg.Database.Driver)

	// untouched keys keep their defaults
	def := autopilot.DefaultSession()
	assert.Equal(t, def.MaxPositions, s.MaxPositions)
	assert.Equal(t, def.Limits, s.Limits)
	assert.Equal(t, def.Tuning, s.Tuning)
	assert.Equal(t, def.Breaker.Cooldown, s.Breaker.Cooldown)
	assert.True(t, s.TestMode)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "trader.json", `{
  "binance": {"mock_mode": true},
  "trading": {"total_capital": 100, "symbols": ["SOLUSDT"], "test_mode": false}
}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"SOLUSDT"}, cfg.Session().Symbols)
	assert.False(t, cfg.Session().TestMode)
	assert.Zero(t, cfg.Session().QuantityPerTrade)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "trader.yaml", `
trading:
  total_capital: 100
  symbols: [BTCUSDT]
`)
	t.Setenv("MOCK_MODE", "true")
	t.Setenv("TRADING_SYMBOLS", "ethusdt,solusdt")
	t.Setenv("TRADING_TOTAL_CAPITAL", "250")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Binance.MockMode)
	assert.Equal(t, 250.0, cfg.Trading.TotalCapital)
	assert.Equal(t, []string{"ETHUSDT", "SOLUSDT"}, cfg.Session().Symbols)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Binance.MockMode = true
		c.Trading.TotalCapital = 100
		c.Trading.Symbols = []string{"BTCUSDT"}
		return c
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no capital", func(c *Config) { c.Trading.TotalCapital = 0 }},
		{"no symbols", func(c *Config) { c.Trading.Symbols = nil }},
		{"unknown strategy", func(c *Config) { c.Trading.Strategy = "grid" }},
		{"negative quantity", func(c *Config) { q := -1.0; c.Trading.QuantityPerTrade = &q }},
		{"zero quantity", func(c *Config) { q := 0.0; c.Trading.QuantityPerTrade = &q }},
		{"live without keys", func(c *Config) { c.Binance.MockMode = false }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without host", func(c *Config) { c.Database.Driver = "postgres"; c.Database.Host = "" }},
		{"vault without token", func(c *Config) { c.Vault.Enabled = true }},
		{"auth without secret", func(c *Config) { c.Auth.Enabled = true; c.Auth.PasswordHash = "x" }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}

	c := valid()
	c.Binance.MockMode = false
	c.Vault.Enabled = true
	c.Vault.Token = "t"
	assert.NoError(t, c.Validate(), "vault supplies credentials")
}

func TestGenerateSampleLoads(t *testing.T) {
	for _, name := range []string{"sample.yaml", "sample.json"} {
		path := filepath.Join(t.TempDir(), name)
		require.NoError(t, GenerateSample(path))

		cfg, err := Load(path)
		require.NoError(t, err, name)
		assert.True(t, cfg.Binance.MockMode)
		assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, cfg.Session().Symbols)
		assert.Equal(t, 10*time.Second, cfg.Trading.ReinvestInterval)
	}
}

func TestLoadRejectsZeroQuantityPerTrade(t *testing.T) {
	path := writeFile(t, "trader.yaml", `
binance:
  mock_mode: true
trading:
  total_capital: 100
  symbols: [BTCUSDT]
  quantity_per_trade: 0
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "quantity_per_trade")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
