package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/glia-ai/glia/pkg/glia/config"
)

// secretKeys maps CLI names to keyring keys.
var secretKeys = map[string]string{
	"bot-api-key":          config.KeyBotAPIKey,
	"session-token-secret": config.KeySessionTokenSecret,
	"agent-api-key":        config.KeyAgentAPIKey,
}

// newSecretCmd creates the `glia secret` command group for managing
// secrets in the OS keyring.
func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets in the OS keyring",
		Long: `Stores and removes Glia secrets in the OS keyring so they never
live in config.yaml.

Keys: ` + strings.Join(secretKeyNames(), ", ") + `

Examples:
  glia secret set bot-api-key
  glia secret delete agent-api-key`,
	}
	cmd.AddCommand(newSecretSetCmd(), newSecretDeleteCmd())
	return cmd
}

func secretKeyNames() []string {
	names := make([]string, 0, len(secretKeys))
	for name := range secretKeys {
		names = append(names, name)
	}
	return names
}

func lookupSecretKey(name string) (string, error) {
	key, ok := secretKeys[name]
	if !ok {
		return "", fmt.Errorf("unknown secret %q (valid: %s)", name, strings.Join(secretKeyNames(), ", "))
	}
	return key, nil
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key>",
		Short: "Store a secret (prompts without echo)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			key, err := lookupSecretKey(args[0])
			if err != nil {
				return err
			}
			if !config.KeyringAvailable() {
				return fmt.Errorf("no OS keyring available on this system")
			}
			value, err := config.ReadPassword(fmt.Sprintf("Value for %s: ", args[0]))
			if err != nil {
				return err
			}
			if value == "" {
				return fmt.Errorf("empty value, nothing stored")
			}
			if err := config.StoreKeyring(key, value); err != nil {
				return fmt.Errorf("storing secret: %w", err)
			}
			fmt.Println("Stored.")
			return nil
		},
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a secret from the keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			key, err := lookupSecretKey(args[0])
			if err != nil {
				return err
			}
			if err := config.DeleteKeyring(key); err != nil {
				return fmt.Errorf("deleting secret: %w", err)
			}
			fmt.Println("Deleted.")
			return nil
		},
	}
}
