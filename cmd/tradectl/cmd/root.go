package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/config"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/control"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "tradectl",
	Short: "Operate a running volatile-trader deployment",
	Long: `tradectl inspects and controls a volatile-trader deployment.

It provides tools for:
  - Reading today's round-trip stats and adaptive risk tier from the trade log
  - Resetting the circuit breaker through the Redis control channel
  - Reading the breaker status the trader publishes
  - Generating and validating configuration files`,
	SilenceUsage: true,
}

var configFile string

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "trader config file")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", configFile, err)
	}
	return cfg, nil
}

func quietLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "WARN", Output: "stderr", Component: "tradectl"})
}

// redisChannel connects to the control channel named in the config
func redisChannel(ctx context.Context, cfg *config.Config) (*control.RedisChannel, error) {
	if !cfg.Redis.Enabled {
		return nil, fmt.Errorf("redis is not enabled in %s; the control channel needs it", configFile)
	}
	return control.NewRedisChannel(ctx, control.RedisConfig{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Scope:    cfg.Redis.Scope,
	}, quietLogger())
}
