package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/glia-ai/glia/pkg/glia/botclient"
	"github.com/glia-ai/glia/pkg/glia/config"
	"github.com/glia-ai/glia/pkg/glia/platform"
)

// newChatCmd creates the `glia chat` command, an interactive REPL that
// talks to a running server over the same bot API the platform
// adapters use.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat against a running server",
		Long: `Opens an interactive chat session against a running glia server,
speaking the same streaming bot API the platform adapters use.

Commands inside the session:
  /reset   start a fresh conversation
  /link    print an account link URL
  /quit    exit

Examples:
  glia chat
  glia chat --server http://localhost:8080 --user alice`,
		RunE: runChat,
	}

	cmd.Flags().String("server", "", "server base URL (default from config)")
	cmd.Flags().String("platform", "discord", "platform identity to chat as")
	cmd.Flags().String("user", "cli", "platform user id to chat as")
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.Default()
	}
	config.ResolveSecrets(cfg, nil)

	serverURL, _ := cmd.Flags().GetString("server")
	if serverURL == "" {
		serverURL = localBaseURL(cfg)
	}
	if cfg.Auth.BotAPIKey == "" {
		return fmt.Errorf("no bot API key configured (run `glia setup` or set GLIA_BOT_API_KEY)")
	}

	platformName, _ := cmd.Flags().GetString("platform")
	p, err := platform.Parse(platformName)
	if err != nil {
		return err
	}
	userID, _ := cmd.Flags().GetString("user")

	client := botclient.New(serverURL, cfg.Auth.BotAPIKey, nil)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".glia_chat_history"),
		InterruptPrompt: "^C",
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("Connected to %s as %s:%s. /quit to exit.\n", serverURL, p, userID)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}

		switch text {
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := client.ResetSession(ctx, p, userID, ""); err != nil {
				fmt.Fprintln(os.Stderr, "reset failed:", err)
				continue
			}
			fmt.Println("Session reset.")
			continue
		case "/link":
			prompt, err := client.CreateLinkToken(ctx, p, userID, userID, "")
			if err != nil {
				fmt.Fprintln(os.Stderr, "link failed:", err)
				continue
			}
			fmt.Println("Open this URL to link your account:")
			fmt.Println("  " + prompt.AuthURL)
			continue
		}

		_, err = client.ChatStream(ctx, botclient.ChatRequest{
			Platform:       p,
			PlatformUserID: userID,
			Message:        text,
		}, func(chunk string) {
			fmt.Print(chunk)
		})
		fmt.Println()
		if err != nil {
			if errors.Is(err, botclient.ErrNotLinked) {
				fmt.Fprintln(os.Stderr, "This identity is not linked yet. Use /link first.")
				continue
			}
			fmt.Fprintln(os.Stderr, "chat failed:", err)
		}
	}
}
