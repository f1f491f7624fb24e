package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/config"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/api"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/auth"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/autopilot"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/binance"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/control"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/database"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/events"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/exchange"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/logging"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/vault"
)

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		logging.Default().WithError(err).Fatal("Failed to load configuration")
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.Logging.Level,
		Output:      cfg.Logging.Output,
		JSONFormat:  cfg.Logging.JSONFormat,
		IncludeFile: cfg.Logging.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tradeLog, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open trade log")
	}
	defer tradeLog.Close()

	client, err := newExchangeClient(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create exchange client")
	}

	checks := map[string]api.HealthCheck{
		"trade_log": func(ctx context.Context) error { return database.HealthCheck(ctx, tradeLog) },
	}

	if cfg.Vault.Enabled {
		vc, err := vault.NewClient(cfg.Vault)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Vault client")
		}
		checks["vault"] = vc.Health
	}

	var channel control.Channel = control.NewMemoryChannel()
	if cfg.Redis.Enabled {
		rc, err := control.NewRedisChannel(ctx, control.RedisConfig{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Scope:    cfg.Redis.Scope,
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect control channel")
		}
		defer rc.Close()
		channel = rc
		checks["redis"] = rc.Ping
	}

	bus := events.NewEventBus()
	bus.Subscribe(events.EventError, func(e events.Event) {
		logger.Warn("Error event", "source", e.Data["source"], "message", e.Data["message"])
	})

	trader, err := autopilot.New(cfg.Session(), autopilot.Deps{
		Client:   client,
		TradeLog: tradeLog,
		Control:  channel,
		Bus:      bus,
		Logger:   logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create orchestrator")
	}

	var server *api.Server
	if cfg.Server.Enabled {
		var authenticator *auth.Authenticator
		if cfg.Auth.Enabled {
			authenticator = auth.NewAuthenticator(cfg.Auth)
		}
		server = api.NewServer(api.ServerConfig{
			Host:           cfg.Server.Host,
			Port:           cfg.Server.Port,
			ProductionMode: cfg.Server.ProductionMode,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}, api.Deps{
			Trader:       trader,
			Auth:         authenticator,
			Bus:          bus,
			Logger:       logger,
			HealthChecks: checks,
		})
		go func() {
			if err := server.Start(); err != nil {
				logger.WithError(err).Error("HTTP server stopped")
				stop()
			}
		}()
	}

	session := cfg.Session()
	logger.Info("Starting trader",
		"symbols", session.Symbols,
		"capital", session.TotalCapital,
		"strategy", session.Strategy,
		"test_mode", session.TestMode,
		"mock_mode", cfg.Binance.MockMode,
	)
	if err := trader.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start trading session")
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Error shutting down HTTP server")
		}
	}
	if err := trader.Stop(); err != nil && !errors.Is(err, autopilot.ErrNotRunning) {
		logger.WithError(err).Error("Error stopping trading session")
	}

	logger.Info("Shutdown complete")
}

// configPath returns TRADER_CONFIG, else config.yaml when present
func configPath() string {
	if p := os.Getenv("TRADER_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

// newExchangeClient returns the paper exchange in mock mode, otherwise a
// Binance spot client with credentials from Vault or the config
func newExchangeClient(ctx context.Context, cfg *config.Config, logger *logging.Logger) (exchange.Client, error) {
	if cfg.Binance.MockMode {
		logger.Warn("Mock mode: trading against a simulated exchange")
		return binance.NewMockClient(cfg.Binance.MockSeed), nil
	}

	apiKey, secretKey := cfg.Binance.APIKey, cfg.Binance.SecretKey
	if cfg.Vault.Enabled {
		vc, err := vault.NewClient(cfg.Vault)
		if err != nil {
			return nil, err
		}
		lookupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		creds, err := vc.Credentials(lookupCtx, "binance", cfg.Binance.TestNet)
		if err != nil {
			return nil, err
		}
		apiKey, secretKey = creds.APIKey, creds.SecretKey
		logger.Info("Loaded exchange credentials from Vault", "testnet", cfg.Binance.TestNet)
	}

	return binance.NewSpotClient(binance.SpotConfig{
		APIKey:     apiKey,
		SecretKey:  secretKey,
		TestNet:    cfg.Binance.TestNet,
		Mirrors:    cfg.Binance.Mirrors,
		MaxRetries: cfg.Binance.MaxRetries,
		MaxWeight:  cfg.Binance.MaxWeight,
		Timeout:    cfg.Trading.CallTimeout,
	}, logger), nil
}
