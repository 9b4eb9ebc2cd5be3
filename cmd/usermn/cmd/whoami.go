package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the authenticated identity",
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
				return err
			}
		} else if err := s.controller.CheckAuthStatus(ctx); err != nil {
			return err
		}

		snap := s.controller.Snapshot()
		if !snap.IsAuthenticated {
			return fmt.Errorf("not authenticated; run 'usermn whoami --email ... --password-stdin'")
		}
		printProfile(snap.User)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}
