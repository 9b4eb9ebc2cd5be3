package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped by the release build.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "usermn",
	Short: "usermn is a client for the user-management backend",
	Long: `A command-line client for the user-management backend: login,
profile inspection and updates, and a local development server.

Credentials are encrypted under a key that lives only in process memory,
so a session does not outlive the invocation that created it.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
