package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lookym/authgate/internal/domain/auth"
)

var (
	registerEmail    string
	registerPassword string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	Long: `Create an account with email and password. If the provider issues a
session right away the client is signed in; if it requires email
confirmation the auth state is left as it was.`,
	RunE: runRegister,
}

func init() {
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "account email")
	registerCmd.Flags().StringVar(&registerPassword, "password", "", "account password (default: read from stdin)")
	_ = registerCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(registerCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	password, err := readPassword(registerPassword, cmd.InOrStdin())
	if err != nil {
		return err
	}

	a, err := startApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.Auth.SignUp(cmd.Context(), registerEmail, password)
	if err != nil {
		return userError(err)
	}

	out := cmd.OutOrStdout()
	st := a.Store.State()
	if u := st.User(); u != nil && u.ID == user.ID && st.Status == auth.StatusAuthenticated {
		fmt.Fprintf(out, "Registered and signed in as %s\n", user.Email)
	} else {
		fmt.Fprintf(out, "Registered %s; confirm the email address, then run login\n", user.Email)
	}
	printStatus(out, describeState(st, a.Routes()))
	return nil
}
