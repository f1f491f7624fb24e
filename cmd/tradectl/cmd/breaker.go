package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/control"
)

var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Inspect or reset the circuit breaker",
	Long: `Talk to a running trader through the Redis control channel.

Subcommands:
  reset  - Ask the trader to lift an active pause on its next reinvestment tick
  status - Show the breaker status the trader last published

Examples:
  tradectl breaker reset --config config.yaml
  tradectl breaker status --config config.yaml`,
}

var breakerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Request a manual circuit breaker reset",
	Args:  cobra.NoArgs,
	RunE:  runBreakerReset,
}

var breakerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the published circuit breaker status",
	Args:  cobra.NoArgs,
	RunE:  runBreakerStatus,
}

var (
	resetRequestedBy string
	statusJSON       bool
)

func init() {
	rootCmd.AddCommand(breakerCmd)
	breakerCmd.AddCommand(breakerResetCmd)
	breakerCmd.AddCommand(breakerStatusCmd)

	breakerResetCmd.Flags().StringVar(&resetRequestedBy, "by", defaultOperator(), "operator name recorded with the reset")
	breakerStatusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON")
}

func defaultOperator() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "tradectl"
}

func runBreakerReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ch, err := redisChannel(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.RequestReset(cmd.Context(), resetRequestedBy); err != nil {
		return fmt.Errorf("request reset: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reset requested by %s; the trader applies it on its next reinvestment tick\n", resetRequestedBy)
	return nil
}

func runBreakerStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ch, err := redisChannel(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer ch.Close()

	status, err := ch.ReadStatus(cmd.Context())
	if errors.Is(err, control.ErrNoStatus) {
		fmt.Fprintln(cmd.OutOrStdout(), "No breaker status published; is the trader running?")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	return printStatus(cmd, status)
}

func printStatus(cmd *cobra.Command, status control.BreakerStatus) error {
	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	state := "inactive"
	if status.Active {
		state = "ACTIVE"
	}
	fmt.Fprintf(out, "Breaker:      %s\n", state)
	if status.Reason != "" {
		fmt.Fprintf(out, "Reason:       %s\n", status.Reason)
	}
	if status.PauseUntil != nil {
		fmt.Fprintf(out, "Paused until: %s\n", status.PauseUntil.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "Loss streak:  %d\n", status.LossStreak)
	fmt.Fprintf(out, "Daily P&L:    %.2f\n", status.DailyPnL)
	fmt.Fprintf(out, "Tier:         %s\n", status.Tier)
	fmt.Fprintf(out, "Session:      %s\n", status.SessionID)
	fmt.Fprintf(out, "Updated:      %s\n", status.UpdatedAt.Format(time.RFC3339))
	return nil
}
