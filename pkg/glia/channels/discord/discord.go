// Package discord bridges Discord to the Glia API using discordgo.
// Direct messages go to the streaming chat endpoint; guild messages
// that mention the bot go to the mention endpoint with the stricter
// guild rate limit applied server-side.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/glia-ai/glia/pkg/glia/botclient"
	"github.com/glia-ai/glia/pkg/glia/channels"
	"github.com/glia-ai/glia/pkg/glia/platform"
)

// messageLimit is Discord's hard per-message character limit.
const messageLimit = 2000

// Config holds Discord adapter configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild IDs the bot responds in.
	// Empty means respond in all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// SendTyping sends "typing..." indicators while processing.
	SendTyping bool `yaml:"send_typing"`
}

// Discord implements channels.Channel.
type Discord struct {
	cfg     Config
	client  *botclient.Client
	logger  *slog.Logger
	session *discordgo.Session

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

var _ channels.Channel = (*Discord)(nil)

// New creates a Discord adapter talking to the given API client.
func New(cfg Config, client *botclient.Client, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "discord"),
	}
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)
	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.session != nil {
		d.session.Close()
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
}

func (d *Discord) guildAllowed(guildID string) bool {
	if len(d.cfg.AllowedGuilds) == 0 {
		return true
	}
	for _, g := range d.cfg.AllowedGuilds {
		if g == guildID {
			return true
		}
	}
	return false
}

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}
	d.lastMsg.Store(time.Now())

	if m.GuildID == "" {
		go d.handleDirect(m)
		return
	}
	if !d.guildAllowed(m.GuildID) {
		return
	}
	if mentioned, text := d.stripMention(s, m); mentioned {
		go d.handleMention(m, text)
	}
}

// stripMention reports whether the bot was mentioned and returns the
// message with the mention removed.
func (d *Discord) stripMention(s *discordgo.Session, m *discordgo.MessageCreate) (bool, string) {
	botID := s.State.User.ID
	mentioned := false
	for _, u := range m.Mentions {
		if u.ID == botID {
			mentioned = true
			break
		}
	}
	if !mentioned {
		return false, ""
	}
	text := m.Content
	for _, tag := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
		text = strings.ReplaceAll(text, tag, "")
	}
	return true, strings.TrimSpace(text)
}

// handleDirect serves a DM through the streaming chat endpoint.
func (d *Discord) handleDirect(m *discordgo.MessageCreate) {
	content := strings.TrimSpace(m.Content)

	if content == channels.CommandReset {
		if err := d.client.ResetSession(d.ctx, platform.Discord, m.Author.ID, ""); err != nil {
			d.replyError(m.ChannelID, err)
			return
		}
		d.send(m.ChannelID, "Session reset. Starting fresh!")
		return
	}
	if content == channels.CommandLink {
		d.sendLinkPrompt(m)
		return
	}

	if d.cfg.SendTyping {
		_ = d.session.ChannelTyping(m.ChannelID)
	}

	result, err := d.client.ChatStream(d.ctx, botclient.ChatRequest{
		Platform:       platform.Discord,
		PlatformUserID: m.Author.ID,
		Message:        content,
	}, nil)
	if err != nil {
		if errors.Is(err, botclient.ErrNotLinked) {
			d.sendLinkPrompt(m)
			return
		}
		d.replyError(m.ChannelID, err)
		return
	}
	d.send(m.ChannelID, result.Text)
}

// handleMention serves a guild mention through the foreground mention
// endpoint.
func (d *Discord) handleMention(m *discordgo.MessageCreate, text string) {
	if text == "" {
		return
	}
	if d.cfg.SendTyping {
		_ = d.session.ChannelTyping(m.ChannelID)
	}

	result, err := d.client.ChatMention(d.ctx, botclient.ChatRequest{
		Platform:       platform.Discord,
		PlatformUserID: m.Author.ID,
		ChannelID:      m.ChannelID,
		GuildID:        m.GuildID,
		Message:        text,
	})
	if err != nil {
		d.replyError(m.ChannelID, err)
		return
	}
	d.send(m.ChannelID, result.Response)
}

func (d *Discord) sendLinkPrompt(m *discordgo.MessageCreate) {
	prompt, err := d.client.CreateLinkToken(d.ctx, platform.Discord,
		m.Author.ID, m.Author.Username, m.Author.GlobalName)
	if err != nil {
		d.replyError(m.ChannelID, err)
		return
	}
	d.send(m.ChannelID, channels.LinkPromptText+"\n"+prompt.AuthURL)
}

func (d *Discord) replyError(channelID string, err error) {
	d.errorCount.Add(1)
	d.logger.Error("discord: request failed", "error", err)
	switch {
	case errors.Is(err, botclient.ErrRateLimited):
		d.send(channelID, "You're sending messages too quickly. Give me a minute.")
	default:
		d.send(channelID, "Something went wrong, please try again.")
	}
}

// send delivers text, splitting it to fit Discord's message limit.
func (d *Discord) send(channelID, text string) {
	if text == "" {
		return
	}
	for _, chunk := range splitMessage(text, messageLimit) {
		if _, err := d.session.ChannelMessageSend(channelID, chunk); err != nil {
			d.errorCount.Add(1)
			d.logger.Error("discord: send failed", "error", err)
			return
		}
	}
}

// splitMessage cuts text into chunks of at most limit characters,
// preferring to break on newlines.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
