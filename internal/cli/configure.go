package cli

import (
	"fmt"

	"github.com/harun/parley/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration",
	Long: `Print the configuration after merging defaults, the config file, .env and
PARLEY_* environment overrides. The API key itself is never printed.`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration, including the API key",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# file: %s\n", loader.GetConfigPath())
	keyState := "missing"
	if cfg.APIKey != "" {
		keyState = "set"
	}
	fmt.Fprintf(out, "# %s: %s\n", cfg.Model.APIKeyEnv, keyState)
	fmt.Fprintln(out, cfg.String())
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, _, err := loadConfig(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Configuration OK")
	return nil
}
