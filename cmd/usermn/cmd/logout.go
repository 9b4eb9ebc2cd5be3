package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the current session",
	Long: `Clears the local credential record and asks the backend to revoke
the session's refresh tokens. With --email and a password, logs in first
so the server-side revocation applies to that account; without them only
whatever this process can still read is cleared.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStack()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		if flagEmail != "" {
			email, password, err := credentials()
			if err != nil {
				return err
			}
			if err := s.controller.Login(ctx, email, password); err != nil {
				return fmt.Errorf("authenticating before logout: %w", err)
			}
		} else if err := s.controller.CheckAuthStatus(ctx); err != nil {
			// Local clear still happens below; server revocation needs auth.
			fmt.Println("No live session found; clearing local state only.")
		}

		if err := s.controller.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
