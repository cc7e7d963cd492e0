package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out",
	Long: `Sign out at the provider and clear the persisted session. Signing out
while already signed out does nothing.`,
	RunE: runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := startApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Auth.SignOut(cmd.Context()); err != nil {
		return userError(err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
	printStatus(cmd.OutOrStdout(), describeState(a.Store.State(), a.Routes()))
	return nil
}
