package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and save the session",
	Long: `Log in with a username and password. The session is saved locally and
refreshed automatically.

Examples:
  slotbook login --user ann --password secret`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if user == "" {
			return fmt.Errorf("--user is required")
		}
		if err := app.Session.Login(cmd.Context(), user, password); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", app.Session.UserID())
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and clear saved credentials",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !app.Session.Authenticated() {
			fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
			return nil
		}
		if err := app.Session.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged in user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !app.Session.Authenticated() {
			fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
			return nil
		}
		id := app.Session.UserID()
		if id == "" {
			id = "(unknown)"
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}
