package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sangram0022/user-mn-go/apiclient"
)

var (
	newFullName string
	newEmail    string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect and modify the current user's profile",
}

var profileUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update profile fields on the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		if newFullName == "" && newEmail == "" {
			return fmt.Errorf("nothing to update; pass --full-name and/or --new-email")
		}

		email, password, err := credentials()
		if err != nil {
			return err
		}

		s, err := buildStack()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		if err := s.controller.Login(ctx, email, password); err != nil {
			return err
		}

		var update apiclient.ProfileUpdate
		if newFullName != "" {
			update.FullName = &newFullName
		}
		if newEmail != "" {
			update.Email = &newEmail
		}

		updated, err := s.controller.UpdateProfile(ctx, update)
		if err != nil {
			var ve *apiclient.ValidationError
			if errors.As(err, &ve) {
				var lines []string
				for field, msgs := range ve.Fields {
					lines = append(lines, fmt.Sprintf("  %s: %s", field, strings.Join(msgs, "; ")))
				}
				return fmt.Errorf("the backend rejected the update:\n%s", strings.Join(lines, "\n"))
			}
			return err
		}

		fmt.Println("Profile updated.")
		printProfile(updated)
		return nil
	},
}

func init() {
	profileUpdateCmd.Flags().StringVar(&newFullName, "full-name", "", "New display name")
	profileUpdateCmd.Flags().StringVar(&newEmail, "new-email", "", "New account email")
	profileCmd.AddCommand(profileUpdateCmd)
	rootCmd.AddCommand(profileCmd)
}
