package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/circuit"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/database"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show today's round-trip stats and risk tier",
	Long: `Compute today's operation stats (UTC day) from the configured trade log.

Example:
  tradectl stats --config config.yaml`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

var statsJSON bool

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print JSON")
}

type statsReport struct {
	circuit.OperationStats
	Tier circuit.Tier `json:"tier"`
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	tradeLog, err := database.Open(ctx, cfg.Database, quietLogger())
	if err != nil {
		return fmt.Errorf("open trade log: %w", err)
	}
	defer tradeLog.Close()

	stats, err := circuit.LoadStats(ctx, tradeLog, time.Now())
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}
	report := statsReport{OperationStats: stats, Tier: circuit.TierFor(stats.LossStreak)}

	out := cmd.OutOrStdout()
	if statsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(out, "Window start:  %s\n", stats.WindowStart.Format(time.RFC3339))
	fmt.Fprintf(out, "Round trips:   %d (%d wins, %d losses)\n", stats.RoundTrips, stats.Wins, stats.Losses)
	fmt.Fprintf(out, "Daily P&L:     %.2f\n", stats.DailyPnL)
	fmt.Fprintf(out, "Loss streak:   %d\n", stats.LossStreak)
	fmt.Fprintf(out, "Risk tier:     %s\n", report.Tier)
	return nil
}
