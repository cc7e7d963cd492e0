package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lookym/authgate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, environment overrides and
--dev have been applied, as YAML. The anon key is redacted.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if file := config.ConfigFileUsed(); file != "" {
		fmt.Fprintf(out, "# loaded from %s\n", file)
	} else {
		fmt.Fprintln(out, "# no config file found; defaults and environment only")
	}

	data, err := yaml.Marshal(redacted(*cfg))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func redacted(cfg config.Config) config.Config {
	if key := cfg.Provider.AnonKey; key != "" {
		if len(key) > 8 {
			cfg.Provider.AnonKey = key[:4] + "…redacted"
		} else {
			cfg.Provider.AnonKey = "redacted"
		}
	}
	return cfg
}
