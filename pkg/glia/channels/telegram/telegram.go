// Package telegram bridges Telegram to the Glia API via the Bot API
// long-polling endpoint. No third-party SDK: the Bot API surface used
// here is two JSON endpoints.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/glia-ai/glia/pkg/glia/botclient"
	"github.com/glia-ai/glia/pkg/glia/channels"
	"github.com/glia-ai/glia/pkg/glia/platform"
)

// pollTimeout is the long-poll wait passed to getUpdates.
const pollTimeout = 30 * time.Second

// Config holds Telegram adapter configuration.
type Config struct {
	// Token is the Telegram bot token from @BotFather.
	Token string `yaml:"token"`
}

// Telegram implements channels.Channel.
type Telegram struct {
	cfg    Config
	client *botclient.Client
	logger *slog.Logger
	http   *http.Client

	botUsername string

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

var _ channels.Channel = (*Telegram)(nil)

// New creates a Telegram adapter talking to the given API client.
func New(cfg Config, client *botclient.Client, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "telegram"),
		http:   &http.Client{Timeout: pollTimeout + 10*time.Second},
	}
}

// ---------- Bot API wire types ----------

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

type update struct {
	UpdateID int64    `json:"update_id"`
	Message  *message `json:"message"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	From      *struct {
		ID        int64  `json:"id"`
		IsBot     bool   `json:"is_bot"`
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
	} `json:"from"`
	Chat struct {
		ID   int64  `json:"id"`
		Type string `json:"type"` // private, group, supergroup, channel
	} `json:"chat"`
}

func (t *Telegram) api(ctx context.Context, method string, params any, result any) error {
	var body bytes.Buffer
	if params != nil {
		if err := json.NewEncoder(&body).Encode(params); err != nil {
			return fmt.Errorf("telegram: encode params: %w", err)
		}
	}
	url := "https://api.telegram.org/bot" + t.cfg.Token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer resp.Body.Close()

	var ar apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return fmt.Errorf("telegram: decode %s: %w", method, err)
	}
	if !ar.OK {
		return fmt.Errorf("telegram: %s failed: %s", method, ar.Description)
	}
	if result != nil {
		if err := json.Unmarshal(ar.Result, result); err != nil {
			return fmt.Errorf("telegram: decode %s result: %w", method, err)
		}
	}
	return nil
}

// Name returns "telegram".
func (t *Telegram) Name() string { return "telegram" }

// Connect verifies the token via getMe and starts the polling loop.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}
	t.ctx, t.cancel = context.WithCancel(ctx)

	var me struct {
		Username string `json:"username"`
	}
	if err := t.api(t.ctx, "getMe", nil, &me); err != nil {
		return err
	}
	t.botUsername = me.Username
	t.connected.Store(true)
	t.logger.Info("telegram: connected", "bot", me.Username)

	go t.pollLoop()
	return nil
}

// Disconnect stops the polling loop.
func (t *Telegram) Disconnect() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.connected.Store(false)
	t.logger.Info("telegram: disconnected")
	return nil
}

// IsConnected returns true while the polling loop runs.
func (t *Telegram) IsConnected() bool { return t.connected.Load() }

// Health returns the channel health status.
func (t *Telegram) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := t.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     t.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(t.errorCount.Load()),
	}
}

func (t *Telegram) pollLoop() {
	var offset int64
	for t.ctx.Err() == nil {
		var updates []update
		err := t.api(t.ctx, "getUpdates", map[string]any{
			"offset":          offset,
			"timeout":         int(pollTimeout.Seconds()),
			"allowed_updates": []string{"message"},
		}, &updates)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			t.errorCount.Add(1)
			t.logger.Warn("telegram: poll failed, backing off", "error", err)
			time.Sleep(5 * time.Second)
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message != nil {
				t.handleMessage(u.Message)
			}
		}
	}
}

func (t *Telegram) handleMessage(m *message) {
	if m.From == nil || m.From.IsBot || m.Text == "" {
		return
	}
	t.lastMsg.Store(time.Now())

	if m.Chat.Type == "private" {
		go t.handleDirect(m)
		return
	}
	// Group chat: only react to @botname mentions.
	tag := "@" + t.botUsername
	if !strings.Contains(m.Text, tag) {
		return
	}
	text := strings.TrimSpace(strings.ReplaceAll(m.Text, tag, ""))
	if text != "" {
		go t.handleMention(m, text)
	}
}

func (t *Telegram) handleDirect(m *message) {
	userID := strconv.FormatInt(m.From.ID, 10)
	text := strings.TrimSpace(m.Text)

	switch text {
	case channels.CommandReset, "/reset":
		if err := t.client.ResetSession(t.ctx, platform.Telegram, userID, ""); err != nil {
			t.replyError(m.Chat.ID, err)
			return
		}
		t.send(m.Chat.ID, "Session reset. Starting fresh!")
		return
	case channels.CommandLink, "/link", "/start":
		t.sendLinkPrompt(m)
		return
	}

	result, err := t.client.ChatStream(t.ctx, botclient.ChatRequest{
		Platform:       platform.Telegram,
		PlatformUserID: userID,
		Message:        text,
	}, nil)
	if err != nil {
		if errors.Is(err, botclient.ErrNotLinked) {
			t.sendLinkPrompt(m)
			return
		}
		t.replyError(m.Chat.ID, err)
		return
	}
	t.send(m.Chat.ID, result.Text)
}

func (t *Telegram) handleMention(m *message, text string) {
	userID := strconv.FormatInt(m.From.ID, 10)
	result, err := t.client.ChatMention(t.ctx, botclient.ChatRequest{
		Platform:       platform.Telegram,
		PlatformUserID: userID,
		ChannelID:      strconv.FormatInt(m.Chat.ID, 10),
		GuildID:        strconv.FormatInt(m.Chat.ID, 10),
		Message:        text,
	})
	if err != nil {
		t.replyError(m.Chat.ID, err)
		return
	}
	t.send(m.Chat.ID, result.Response)
}

func (t *Telegram) sendLinkPrompt(m *message) {
	userID := strconv.FormatInt(m.From.ID, 10)
	prompt, err := t.client.CreateLinkToken(t.ctx, platform.Telegram,
		userID, m.From.Username, m.From.FirstName)
	if err != nil {
		t.replyError(m.Chat.ID, err)
		return
	}
	t.send(m.Chat.ID, channels.LinkPromptText+"\n"+prompt.AuthURL)
}

func (t *Telegram) replyError(chatID int64, err error) {
	t.errorCount.Add(1)
	t.logger.Error("telegram: request failed", "error", err)
	switch {
	case errors.Is(err, botclient.ErrRateLimited):
		t.send(chatID, "You're sending messages too quickly. Give me a minute.")
	default:
		t.send(chatID, "Something went wrong, please try again.")
	}
}

func (t *Telegram) send(chatID int64, text string) {
	if text == "" {
		return
	}
	err := t.api(t.ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	}, nil)
	if err != nil {
		t.errorCount.Add(1)
		t.logger.Error("telegram: send failed", "error", err)
	}
}
