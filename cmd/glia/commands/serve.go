package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/glia-ai/glia/pkg/glia/agent"
	"github.com/glia-ai/glia/pkg/glia/botclient"
	"github.com/glia-ai/glia/pkg/glia/cache"
	"github.com/glia-ai/glia/pkg/glia/channels"
	"github.com/glia-ai/glia/pkg/glia/channels/discord"
	"github.com/glia-ai/glia/pkg/glia/channels/telegram"
	"github.com/glia-ai/glia/pkg/glia/channels/whatsapp"
	"github.com/glia-ai/glia/pkg/glia/config"
	"github.com/glia-ai/glia/pkg/glia/server"
	"github.com/glia-ai/glia/pkg/glia/store/sqlite"
	"github.com/glia-ai/glia/pkg/glia/workflow"
)

// newServeCmd creates the `glia serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server with platform channels",
		Long: `Start Glia as a daemon service: the bot API server, the workflow
scheduler, and every enabled platform channel (Discord, Telegram, WhatsApp).

Examples:
  glia serve
  glia serve --channel discord
  glia serve --config ./config.yaml`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (discord, telegram, whatsapp)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w (run `glia setup` to create one)", err)
	}

	// ── Configure logger ──
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)

	// ── Resolve secrets (keyring → env → config) and validate ──
	config.ResolveSecrets(cfg, logger)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Storage ──
	st, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	// ── Cache backend ──
	var backend cache.Backend
	if cfg.Redis.URL != "" {
		backend, err = cache.NewRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		logger.Info("using redis backend")
	} else {
		backend = cache.NewMemory()
		logger.Info("using in-process backend (single instance only)")
	}
	defer backend.Close()

	// ── Assistant ──
	ag := agent.NewOpenAI(cfg.Agent.BaseURL, cfg.Agent.APIKey, cfg.Agent.Model, logger)

	// ── API server ──
	srv, err := server.New(cfg, st, backend, ag, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	logger.Info("api server running", "address", cfg.Addr())

	// ── Workflow scheduler ──
	scheduler := workflow.NewScheduler(st, ag, logger)
	if err := scheduler.Start(ctx); err != nil {
		logger.Error("failed to start workflow scheduler", "error", err)
	}

	// ── Platform channels ──
	channelFilter, _ := cmd.Flags().GetStringSlice("channel")
	client := botclient.New(localBaseURL(cfg), cfg.Auth.BotAPIKey, logger)
	manager := channels.NewManager(logger)

	if shouldEnable("discord", channelFilter, cfg.Channels.Discord.Enabled) && cfg.Channels.Discord.BotToken != "" {
		manager.Register(discord.New(discord.Config{
			Token:      cfg.Channels.Discord.BotToken,
			SendTyping: true,
		}, client, logger))
	}
	if shouldEnable("telegram", channelFilter, cfg.Channels.Telegram.Enabled) && cfg.Channels.Telegram.BotToken != "" {
		manager.Register(telegram.New(telegram.Config{
			Token: cfg.Channels.Telegram.BotToken,
		}, client, logger))
	}
	if shouldEnable("whatsapp", channelFilter, cfg.Channels.WhatsApp.Enabled) {
		manager.Register(whatsapp.New(whatsapp.Config{
			DatabasePath: cfg.Channels.WhatsApp.StorePath,
		}, client, logger))
	}
	manager.ConnectAll(ctx)

	// ── Wait for shutdown ──
	logger.Info("glia running. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	// Graceful shutdown with timeout.
	done := make(chan struct{})
	go func() {
		manager.DisconnectAll()
		scheduler.Stop()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Warn("server stop failed", "error", err)
		}
		cancelShutdown()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(15 * time.Second):
		logger.Warn("shutdown timed out, forcing exit")
	}

	return nil
}

// localBaseURL is the API address the in-process channel adapters dial.
func localBaseURL(cfg *config.Config) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
}

// shouldEnable decides whether a channel starts, honoring the --channel
// filter over the config default.
func shouldEnable(name string, filter []string, configEnabled bool) bool {
	if len(filter) == 0 {
		return configEnabled
	}
	for _, f := range filter {
		if f == name {
			return true
		}
	}
	return false
}
