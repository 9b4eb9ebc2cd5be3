package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sangram0022/user-mn-go/apiclient"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the backend and show the signed-in identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, password, err := credentials()
		if err != nil {
			return err
		}

		s, err := buildStack()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.controller.Login(cmd.Context(), email, password); err != nil {
			switch {
			case errors.Is(err, apiclient.ErrInvalidCredentials):
				return fmt.Errorf("invalid email or password")
			case apiclient.IsTransient(err):
				return fmt.Errorf("backend unreachable at %s: %w", s.cfg.APIBaseURL, err)
			default:
				return err
			}
		}

		snap := s.controller.Snapshot()
		fmt.Println("Logged in.")
		printProfile(snap.User)
		fmt.Printf("\nAccess token valid for %s.\n", s.creds.TimeUntilExpiry().Round(time.Second))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
