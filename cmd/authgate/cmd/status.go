package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/lookym/authgate/internal/domain/auth"
	"github.com/lookym/authgate/internal/domain/route"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current auth state and route",
	Long: `Resolve the current session (refreshing it if needed) and print the
auth status, the signed-in user and the route group the client should show.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(statusCmd)
}

type statusOutput struct {
	Status    string `json:"status"`
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Route     string `json:"route,omitempty"`
	RoutePath string `json:"route_path,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := startApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	out := describeState(a.Store.State(), a.Routes())
	if statusJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	printStatus(cmd.OutOrStdout(), out)
	return nil
}

func describeState(st auth.State, routes route.Routes) statusOutput {
	out := statusOutput{Status: st.Status.String()}
	if u := st.User(); u != nil {
		out.UserID = u.ID
		out.Email = u.Email
		if !st.Session.ExpiresAt.IsZero() {
			out.ExpiresAt = st.Session.ExpiresAt.UTC().Format(time.RFC3339)
		}
	}
	if group, ok := route.Decide(st); ok {
		out.Route = string(group)
		out.RoutePath = routes.Path(group)
	}
	return out
}

func printStatus(w io.Writer, out statusOutput) {
	fmt.Fprintf(w, "Status:  %s\n", out.Status)
	if out.Email != "" || out.UserID != "" {
		fmt.Fprintf(w, "User:    %s (%s)\n", out.Email, out.UserID)
	}
	if out.ExpiresAt != "" {
		fmt.Fprintf(w, "Expires: %s\n", out.ExpiresAt)
	}
	if out.Route != "" {
		fmt.Fprintf(w, "Route:   %s %s\n", out.Route, out.RoutePath)
	}
}
