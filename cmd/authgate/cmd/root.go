// Package cmd provides the CLI commands for authgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lookym/authgate/internal/config"
)

var (
	cfgFile string
	devMode bool
)

var rootCmd = &cobra.Command{
	Use:   "authgate",
	Short: "authgate - client auth session manager and route guard",
	Long: `authgate keeps a single authoritative auth session for a client,
talks to a Supabase/GoTrue-compatible provider, and decides which route
group the client should show: protected once signed in, public otherwise.

Quick start:
  authgate --dev login --email dev@example.com --password dev-password
  authgate --dev status

Configuration:
  Config is loaded from authgate.yaml in the current directory,
  $HOME/.authgate/, or /etc/authgate/. A .env file in the current
  directory is loaded first.

  Environment variables override config values with the AUTHGATE_ prefix.
  Example: AUTHGATE_STORAGE_BACKEND=sqlite
  SUPABASE_URL and SUPABASE_ANON_KEY are used when the provider is not
  configured otherwise.

Commands:
  status      Show the current auth state and route
  login       Sign in with email and password
  register    Create an account
  logout      Sign out
  watch       Follow auth state changes and serve /state, /health, /metrics
  config      Print the effective configuration
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./authgate.yaml)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "use the in-process dev provider and debug logging")
}

func initConfig() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}
	config.InitViper(cfgFile)
}
