package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage trader configuration files.

Subcommands:
  sample   - Write a paper-trading sample configuration
  validate - Load and validate a configuration file

Examples:
  tradectl config sample config.yaml
  tradectl config validate --config config.yaml`,
}

var configSampleCmd = &cobra.Command{
	Use:   "sample <path>",
	Short: "Write a sample configuration (YAML, or JSON for .json paths)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigSample,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSampleCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigSample(cmd *cobra.Command, args []string) error {
	if err := config.GenerateSample(args[0]); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created sample configuration: %s\n", args[0])
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	s := cfg.Session()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration valid: %s\n", configFile)
	fmt.Fprintf(out, "  Capital:  %.2f across %v\n", s.TotalCapital, s.Symbols)
	fmt.Fprintf(out, "  Strategy: %s (SL %.2f%%, TP %.2f%%)\n", s.Strategy, s.StopLossPercent, s.TakeProfitPercent)
	fmt.Fprintf(out, "  Storage:  %s\n", cfg.Database.Driver)
	return nil
}
