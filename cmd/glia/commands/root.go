// Package commands implements the glia CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "glia",
		Short: "Glia - AI assistant backend for chat platforms",
		Long: `Glia is an AI assistant backend that serves chat platforms
(Discord, Telegram, WhatsApp) through a single bot API with account
linking, streaming chat, and scheduled workflows.

Examples:
  glia serve
  glia chat
  glia setup
  glia secret set bot-api-key`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newSetupCmd(),
		newSecretCmd(),
	)

	// Global flags.
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
