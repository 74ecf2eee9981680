// Package commands implements the secondbrain CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "secondbrain",
		Short: "Second Brain - a personal Claude assistant on Discord",
		Long: `Second Brain bridges Discord and the Claude Code CLI: every channel
gets its own resumable conversation, replies are split to fit Discord's
message limit, and the bot reads and writes a markdown note vault.

Examples:
  secondbrain serve
  secondbrain serve --env ./.env
  secondbrain mcp list
  secondbrain mcp install google-calendar`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newMCPCmd(),
	)

	rootCmd.PersistentFlags().String("env", "", "path to a .env file to load")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
