package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	Long: `Sign in with email and password. The session is persisted so later
commands reuse it. Without --password the password is read from the first
line of standard input.

Examples:
  authgate login --email me@example.com --password secret
  echo secret | authgate login --email me@example.com`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "account password (default: read from stdin)")
	_ = loginCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	password, err := readPassword(loginPassword, cmd.InOrStdin())
	if err != nil {
		return err
	}

	a, err := startApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.Auth.SignIn(cmd.Context(), loginEmail, password)
	if err != nil {
		return userError(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", user.Email)
	printStatus(cmd.OutOrStdout(), describeState(a.Store.State(), a.Routes()))
	return nil
}
