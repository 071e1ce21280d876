package commands

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/glia-ai/glia/pkg/glia/config"
)

// newSetupCmd creates the `glia setup` command for interactive configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml.
Asks for the server address, assistant model, channel tokens, and secrets.
Secrets go to the OS keyring when available — never into the file.

Examples:
  glia setup`,
		RunE: runSetup,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath == "" {
		configPath = "config.yaml"
	}
	if _, err := os.Stat(configPath); err == nil {
		var overwrite bool
		confirm := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite?", configPath)).
			Value(&overwrite)
		if err := confirm.Run(); err != nil {
			return err
		}
		if !overwrite {
			return nil
		}
	}

	cfg := config.Default()

	port := strconv.Itoa(cfg.Server.Port)
	var (
		botAPIKey     string
		sessionSecret string
		agentAPIKey   string
		enableDiscord bool
		discordToken  string
		enableTG      bool
		tgToken       string
		enableWA      bool
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen port").
				Value(&port).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n <= 0 || n > 65535 {
						return fmt.Errorf("port must be 1-65535")
					}
					return nil
				}),
			huh.NewInput().
				Title("Frontend base URL (used in account link URLs)").
				Value(&cfg.Server.FrontendURL),
			huh.NewInput().
				Title("Assistant model").
				Value(&cfg.Agent.Model),
			huh.NewInput().
				Title("Assistant API base URL").
				Value(&cfg.Agent.BaseURL),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Assistant API key").
				EchoMode(huh.EchoModePassword).
				Value(&agentAPIKey),
			huh.NewInput().
				Title("Bot API key (shared by platform bots, blank = generate)").
				EchoMode(huh.EchoModePassword).
				Value(&botAPIKey),
			huh.NewInput().
				Title("Session token secret (min 32 chars, blank = generate)").
				EchoMode(huh.EchoModePassword).
				Value(&sessionSecret),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Enable Discord?").Value(&enableDiscord),
			huh.NewInput().
				Title("Discord bot token (blank to set later)").
				EchoMode(huh.EchoModePassword).
				Value(&discordToken),
			huh.NewConfirm().Title("Enable Telegram?").Value(&enableTG),
			huh.NewInput().
				Title("Telegram bot token (blank to set later)").
				EchoMode(huh.EchoModePassword).
				Value(&tgToken),
			huh.NewConfirm().Title("Enable WhatsApp?").Value(&enableWA),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Server.Port, _ = strconv.Atoi(port)
	if botAPIKey == "" {
		botAPIKey = randomSecret(32)
		fmt.Println("Generated bot API key (give this to your platform bots):")
		fmt.Println("  " + botAPIKey)
	}
	if sessionSecret == "" {
		sessionSecret = randomSecret(48)
	}
	cfg.Channels.Discord.Enabled = enableDiscord
	cfg.Channels.Discord.BotToken = discordToken
	cfg.Channels.Telegram.Enabled = enableTG
	cfg.Channels.Telegram.BotToken = tgToken
	cfg.Channels.WhatsApp.Enabled = enableWA

	// Secrets go to the keyring when one is available, otherwise they
	// stay as ${ENV} references in the file.
	if config.KeyringAvailable() {
		stored := map[string]string{
			config.KeyBotAPIKey:          botAPIKey,
			config.KeySessionTokenSecret: sessionSecret,
			config.KeyAgentAPIKey:        agentAPIKey,
		}
		for key, value := range stored {
			if value == "" {
				continue
			}
			if err := config.StoreKeyring(key, value); err != nil {
				return fmt.Errorf("storing %s in keyring: %w", key, err)
			}
		}
		fmt.Println("Secrets stored in the OS keyring.")
	} else {
		cfg.Auth.BotAPIKey = "${GLIA_BOT_API_KEY}"
		cfg.Auth.SessionTokenSecret = "${GLIA_SESSION_TOKEN_SECRET}"
		cfg.Agent.APIKey = "${GLIA_AGENT_API_KEY}"
		fmt.Println("No keyring available. Export these before starting:")
		fmt.Println("  GLIA_BOT_API_KEY=" + botAPIKey)
		fmt.Println("  GLIA_SESSION_TOKEN_SECRET=" + sessionSecret)
		if agentAPIKey != "" {
			fmt.Println("  GLIA_AGENT_API_KEY=" + agentAPIKey)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", configPath, err)
	}

	fmt.Printf("Wrote %s. Start the server with `glia serve`.\n", configPath)
	return nil
}

// randomSecret returns n random bytes, URL-safe base64 encoded.
func randomSecret(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
