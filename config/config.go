package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/auth"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/autopilot"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/capital"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/circuit"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/database"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/logging"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/position"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/strategy"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/vault"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Binance  BinanceConfig   `json:"binance" yaml:"binance"`
	Trading  TradingConfig   `json:"trading" yaml:"trading"`
	Risk     RiskConfig      `json:"risk" yaml:"risk"`
	Database database.Config `json:"database" yaml:"database"`
	Redis    RedisConfig     `json:"redis" yaml:"redis"`
	Vault    vault.Config    `json:"vault" yaml:"vault"`
	Server   ServerConfig    `json:"server" yaml:"server"`
	Auth     auth.Config     `json:"auth" yaml:"auth"`
	Logging  logging.Config  `json:"logging" yaml:"logging"`
}

type BinanceConfig struct {
	APIKey    string   `json:"api_key" yaml:"api_key"`
	SecretKey string   `json:"secret_key" yaml:"secret_key"`
	TestNet   bool     `json:"testnet" yaml:"testnet"`
	MockMode  bool     `json:"mock_mode" yaml:"mock_mode"` // random-walk paper exchange
	MockSeed  int64    `json:"mock_seed" yaml:"mock_seed"`
	Mirrors   []string `json:"mirrors,omitempty" yaml:"mirrors,omitempty"`
	// MaxRetries bounds read retries across mirrors; 0 tries each mirror once
	MaxRetries uint64 `json:"max_retries" yaml:"max_retries"`
	// MaxWeight is the REST request weight budget per minute
	MaxWeight int `json:"max_weight" yaml:"max_weight"`
}

// TradingConfig is the session configuration. It is read once at start.
type TradingConfig struct {
	TotalCapital      float64  `json:"total_capital" yaml:"total_capital"`
	Symbols           []string `json:"symbols" yaml:"symbols"`
	TakeProfitPercent float64  `json:"take_profit_percent" yaml:"take_profit_percent"`
	StopLossPercent   float64  `json:"stop_loss_percent" yaml:"stop_loss_percent"`
	TestMode          bool     `json:"test_mode" yaml:"test_mode"`
	MaxPositions      int      `json:"max_positions" yaml:"max_positions"`
	// QuantityPerTrade fixes the quote amount per pair when set
	QuantityPerTrade *float64 `json:"quantity_per_trade,omitempty" yaml:"quantity_per_trade,omitempty"`

	Strategy                    string        `json:"strategy" yaml:"strategy"`
	MinConfidence               float64       `json:"min_confidence" yaml:"min_confidence"`
	CapitalPerRoundPercent      float64       `json:"capital_per_round_percent" yaml:"capital_per_round_percent"`
	SafetyReservePercent        float64       `json:"safety_reserve_percent" yaml:"safety_reserve_percent"`
	MaxAllocationPerPairPercent float64       `json:"max_allocation_per_pair_percent" yaml:"max_allocation_per_pair_percent"`
	MinQuoteVolume              float64       `json:"min_quote_volume" yaml:"min_quote_volume"`
	Cooldown                    time.Duration `json:"cooldown" yaml:"cooldown"`
	ReinvestProfits             bool          `json:"reinvest_profits" yaml:"reinvest_profits"`

	ScanInterval          time.Duration `json:"scan_interval" yaml:"scan_interval"`
	PositionCheckInterval time.Duration `json:"position_check_interval" yaml:"position_check_interval"`
	ReinvestInterval      time.Duration `json:"reinvest_interval" yaml:"reinvest_interval"`
	CallTimeout           time.Duration `json:"call_timeout" yaml:"call_timeout"`
	CandleInterval        string        `json:"candle_interval" yaml:"candle_interval"`

	EarlyExit position.EarlyExit `json:"early_exit" yaml:"early_exit"`
	Indicator strategy.Tuning    `json:"indicator" yaml:"indicator"`
}

// RiskConfig holds the circuit breaker limits and adaptive tier scaling
type RiskConfig struct {
	CircuitBreaker circuit.Config  `json:"circuit_breaker" yaml:"circuit_breaker"`
	Scaling        circuit.Scaling `json:"scaling" yaml:"scaling"`
}

// RedisConfig configures the control channel
type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	// Scope namespaces the keys so several deployments can share one Redis
	Scope string `json:"scope" yaml:"scope"`
}

type ServerConfig struct {
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	ProductionMode  bool          `json:"production_mode" yaml:"production_mode"`
	AllowedOrigins  []string      `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns a configuration with every tunable at its stock value.
// Capital and symbols are left empty.
func Default() *Config {
	s := autopilot.DefaultSession()
	return &Config{
		Binance: BinanceConfig{TestNet: true},
		Trading: TradingConfig{
			TakeProfitPercent:           s.TakeProfitPercent,
			StopLossPercent:             s.StopLossPercent,
			TestMode:                    s.TestMode,
			MaxPositions:                s.MaxPositions,
			Strategy:                    s.Strategy,
			MinConfidence:               s.MinConfidence,
			CapitalPerRoundPercent:      s.Limits.CapitalPerRoundPercent,
			SafetyReservePercent:        s.Limits.SafetyReservePercent,
			MaxAllocationPerPairPercent: s.Limits.MaxAllocationPerPairPercent,
			Cooldown:                    s.Cooldown,
			ScanInterval:                s.ScanInterval,
			PositionCheckInterval:       s.PositionCheckInterval,
			ReinvestInterval:            s.ReinvestInterval,
			CallTimeout:                 s.CallTimeout,
			CandleInterval:              s.CandleInterval,
			EarlyExit:                   s.EarlyExit,
			Indicator:                   s.Tuning,
		},
		Risk: RiskConfig{
			CircuitBreaker: s.Breaker,
			Scaling:        s.Scaling,
		},
		Database: database.Config{Driver: "memory", Port: 5432, SSLMode: "disable", SQLitePath: "trades.db"},
		Redis:    RedisConfig{Address: "localhost:6379", Scope: "default"},
		Vault:    vault.Config{Address: "http://localhost:8200", MountPath: "secret", SecretPath: "trader"},
		Server: ServerConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth:    auth.Config{TokenTTL: time.Hour, Username: "operator"},
		Logging: logging.Config{Level: "INFO", Output: "stdout", JSONFormat: true},
	}
}

// Load reads .env, the optional config file at path, then environment
// overrides, and validates the result
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile overlays the file on cfg. YAML is tried first, then JSON.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	base := *c
	if err := yaml.Unmarshal(data, c); err != nil {
		*c = base
		if jerr := json.Unmarshal(data, c); jerr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	cfg.Binance.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.Binance.APIKey)
	cfg.Binance.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", cfg.Binance.SecretKey)
	cfg.Binance.TestNet = getEnvBoolOrDefault("BINANCE_TESTNET", cfg.Binance.TestNet)
	cfg.Binance.MockMode = getEnvBoolOrDefault("MOCK_MODE", cfg.Binance.MockMode)

	cfg.Trading.TotalCapital = getEnvFloatOrDefault("TRADING_TOTAL_CAPITAL", cfg.Trading.TotalCapital)
	if symbols := os.Getenv("TRADING_SYMBOLS"); symbols != "" {
		cfg.Trading.Symbols = strings.Split(symbols, ",")
	}
	cfg.Trading.TestMode = getEnvBoolOrDefault("TRADING_TEST_MODE", cfg.Trading.TestMode)
	cfg.Trading.MaxPositions = getEnvIntOrDefault("TRADING_MAX_POSITIONS", cfg.Trading.MaxPositions)
	cfg.Trading.Strategy = getEnvOrDefault("TRADING_STRATEGY", cfg.Trading.Strategy)

	cfg.Risk.CircuitBreaker.Enabled = getEnvBoolOrDefault("CIRCUIT_BREAKER_ENABLED", cfg.Risk.CircuitBreaker.Enabled)

	cfg.Database.Driver = getEnvOrDefault("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.SQLitePath = getEnvOrDefault("SQLITE_PATH", cfg.Database.SQLitePath)

	cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDR", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.Vault.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.Vault.Enabled)
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)

	cfg.Server.Host = getEnvOrDefault("WEB_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvIntOrDefault("WEB_PORT", cfg.Server.Port)

	cfg.Auth.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.Username = getEnvOrDefault("AUTH_USERNAME", cfg.Auth.Username)
	cfg.Auth.PasswordHash = getEnvOrDefault("AUTH_PASSWORD_HASH", cfg.Auth.PasswordHash)
	cfg.Auth.TokenTTL = getEnvDurationOrDefault("AUTH_TOKEN_TTL", cfg.Auth.TokenTTL)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate fails fast on settings the daemon cannot run with
func (c *Config) Validate() error {
	// a configured size must be usable; omit the key for automatic division
	if q := c.Trading.QuantityPerTrade; q != nil && *q <= 0 {
		return invalid("trading.quantity_per_trade must be positive when set, got %v", *q)
	}
	if err := c.Session().Validate(); err != nil {
		return fmt.Errorf("%w: trading: %v", ErrInvalidConfig, err)
	}
	if !c.Binance.MockMode && !c.Vault.Enabled && (c.Binance.APIKey == "" || c.Binance.SecretKey == "") {
		return invalid("binance api_key and secret_key are required unless mock_mode or vault is enabled")
	}
	switch c.Database.Driver {
	case "", "memory", "sqlite":
	case "postgres":
		if c.Database.Host == "" || c.Database.Database == "" {
			return invalid("database.host and database.database are required for postgres")
		}
	default:
		return invalid("unknown database driver %q", c.Database.Driver)
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return invalid("redis.address is required when redis is enabled")
	}
	if c.Vault.Enabled && (c.Vault.Address == "" || c.Vault.Token == "") {
		return invalid("vault.address and vault.token are required when vault is enabled")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return invalid("server.port out of range: %d", c.Server.Port)
	}
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" || c.Auth.Username == "" || c.Auth.PasswordHash == "" {
			return invalid("auth.jwt_secret, auth.username and auth.password_hash are required when auth is enabled")
		}
	}
	return nil
}

// Session builds the immutable session configuration
func (c *Config) Session() autopilot.Session {
	t := c.Trading
	s := autopilot.DefaultSession()

	s.TotalCapital = t.TotalCapital
	s.Symbols = autopilot.NormalizeSymbols(t.Symbols)
	if t.QuantityPerTrade != nil {
		s.QuantityPerTrade = *t.QuantityPerTrade
	}
	s.TakeProfitPercent = t.TakeProfitPercent
	s.StopLossPercent = t.StopLossPercent
	s.TestMode = t.TestMode
	s.MaxPositions = t.MaxPositions
	s.Strategy = t.Strategy
	s.Tuning = t.Indicator
	s.MinConfidence = t.MinConfidence
	s.Limits = capital.Limits{
		CapitalPerRoundPercent:      t.CapitalPerRoundPercent,
		SafetyReservePercent:        t.SafetyReservePercent,
		MaxAllocationPerPairPercent: t.MaxAllocationPerPairPercent,
	}
	s.MinQuoteVolume = t.MinQuoteVolume
	s.Cooldown = t.Cooldown
	s.EarlyExit = t.EarlyExit
	s.Breaker = c.Risk.CircuitBreaker
	s.Scaling = c.Risk.Scaling
	s.ReinvestProfits = t.ReinvestProfits
	s.ScanInterval = t.ScanInterval
	s.PositionCheckInterval = t.PositionCheckInterval
	s.ReinvestInterval = t.ReinvestInterval
	s.CallTimeout = t.CallTimeout
	s.CandleInterval = t.CandleInterval
	return s
}

// SaveToFile writes the config as YAML, or JSON when path ends in .json
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
		data = append([]byte(sampleHeader), data...)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

const sampleHeader = `# volatile-trader configuration.
# Percent values are whole numbers: 2.5 means 2.5%.
# Every key can be omitted to keep its default. Environment variables such as
# BINANCE_API_KEY, TRADING_SYMBOLS, DATABASE_DRIVER and AUTH_JWT_SECRET override the file.
`

// GenerateSample writes a paper-trading sample configuration
func GenerateSample(path string) error {
	cfg := Default()
	cfg.Binance.MockMode = true
	cfg.Binance.MockSeed = 42
	cfg.Trading.TotalCapital = 1000
	cfg.Trading.Symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	cfg.Trading.MinQuoteVolume = 1_000_000
	cfg.Database.Driver = "sqlite"
	return cfg.SaveToFile(path)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
