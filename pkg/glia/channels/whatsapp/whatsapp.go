// Package whatsapp bridges WhatsApp to the Glia API using whatsmeow —
// a native Go WhatsApp Web client. Sessions persist in a dedicated
// SQLite database; first login prints a QR code to the log for
// scanning.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"log/slog"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for session store.

	"github.com/glia-ai/glia/pkg/glia/botclient"
	"github.com/glia-ai/glia/pkg/glia/channels"
	"github.com/glia-ai/glia/pkg/glia/platform"
)

// Config holds WhatsApp adapter configuration.
type Config struct {
	// DatabasePath is the SQLite file for whatsmeow session storage.
	DatabasePath string `yaml:"database_path"`
}

// WhatsApp implements channels.Channel.
type WhatsApp struct {
	cfg    Config
	client *botclient.Client
	wa     *whatsmeow.Client
	logger *slog.Logger

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

var _ channels.Channel = (*WhatsApp)(nil)

// New creates a WhatsApp adapter talking to the given API client.
func New(cfg Config, client *botclient.Client, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "./data/whatsapp.db"
	}
	return &WhatsApp{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "whatsapp"),
	}
}

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

// Connect establishes the WhatsApp Web connection. Without an existing
// session the QR login runs in the background so the rest of the
// process can start.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	container, err := sqlstore.New(w.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", w.cfg.DatabasePath),
		waLog.Noop)
	if err != nil {
		return fmt.Errorf("whatsapp: creating session store: %w", err)
	}

	device, err := container.GetFirstDevice(w.ctx)
	if err != nil {
		return fmt.Errorf("whatsapp: getting device: %w", err)
	}

	// Device name shown in the WhatsApp linked devices list.
	wastore.SetOSInfo("Glia", [3]uint32{1, 0, 0})

	w.wa = whatsmeow.NewClient(device, waLog.Noop)
	w.wa.AddEventHandler(w.handleEvent)
	w.wa.EnableAutoReconnect = true

	if w.wa.Store.ID == nil {
		w.logger.Info("whatsapp: no existing session, QR login required")
		go func() {
			if err := w.loginWithQR(w.ctx); err != nil {
				w.logger.Warn("whatsapp: QR login failed", "error", err)
			}
		}()
		return nil
	}

	if err := w.wa.Connect(); err != nil {
		return fmt.Errorf("whatsapp: connecting: %w", err)
	}
	w.connected.Store(true)
	w.logger.Info("whatsapp: connected (existing session)", "jid", w.wa.Store.ID.String())
	return nil
}

// loginWithQR runs the QR login flow, logging each code for scanning.
func (w *WhatsApp) loginWithQR(ctx context.Context) error {
	qrChan, err := w.wa.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}
	if err := w.wa.Connect(); err != nil {
		return fmt.Errorf("connecting for QR: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed unexpectedly")
			}
			switch evt.Event {
			case "code":
				w.logger.Info("whatsapp: scan this QR code with WhatsApp", "code", evt.Code)
			case "success":
				w.connected.Store(true)
				w.logger.Info("whatsapp: login successful")
				return nil
			case "timeout":
				return fmt.Errorf("QR code expired")
			}
		}
	}
}

// Disconnect closes the WhatsApp connection.
func (w *WhatsApp) Disconnect() error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.wa != nil {
		w.wa.Disconnect()
	}
	w.connected.Store(false)
	w.logger.Info("whatsapp: disconnected")
	return nil
}

// IsConnected returns true if the client is connected.
func (w *WhatsApp) IsConnected() bool { return w.connected.Load() }

// Health returns the channel health status.
func (w *WhatsApp) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := w.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     w.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(w.errorCount.Load()),
	}
}

func (w *WhatsApp) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.Message:
		w.handleMessage(e)
	case *events.Connected:
		w.connected.Store(true)
		w.logger.Info("whatsapp: connection established")
	case *events.Disconnected:
		w.connected.Store(false)
		w.logger.Warn("whatsapp: connection lost")
	case *events.LoggedOut:
		w.connected.Store(false)
		w.logger.Error("whatsapp: logged out, rescan required")
	}
}

// extractText pulls the text body out of a message, plain or extended.
func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if t := msg.GetConversation(); t != "" {
		return t
	}
	if ext := msg.ExtendedTextMessage; ext != nil {
		return ext.GetText()
	}
	return ""
}

func (w *WhatsApp) handleMessage(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.Chat.Server == "broadcast" {
		return
	}
	text := strings.TrimSpace(extractText(evt.Message))
	if text == "" {
		return
	}
	w.lastMsg.Store(time.Now())

	if evt.Info.IsGroup {
		go w.handleGroup(evt, text)
		return
	}
	go w.handleDirect(evt, text)
}

func (w *WhatsApp) handleDirect(evt *events.Message, text string) {
	userID := evt.Info.Sender.User
	chat := evt.Info.Chat

	switch text {
	case channels.CommandReset:
		if err := w.client.ResetSession(w.ctx, platform.WhatsApp, userID, ""); err != nil {
			w.replyError(chat, err)
			return
		}
		w.send(chat, "Session reset. Starting fresh!")
		return
	case channels.CommandLink:
		w.sendLinkPrompt(evt)
		return
	}

	result, err := w.client.ChatStream(w.ctx, botclient.ChatRequest{
		Platform:       platform.WhatsApp,
		PlatformUserID: userID,
		Message:        text,
	}, nil)
	if err != nil {
		if errors.Is(err, botclient.ErrNotLinked) {
			w.sendLinkPrompt(evt)
			return
		}
		w.replyError(chat, err)
		return
	}
	w.send(chat, result.Text)
}

// handleGroup serves group messages that mention the bot's number.
func (w *WhatsApp) handleGroup(evt *events.Message, text string) {
	if w.wa.Store.ID == nil {
		return
	}
	tag := "@" + w.wa.Store.ID.User
	if !strings.Contains(text, tag) {
		return
	}
	text = strings.TrimSpace(strings.ReplaceAll(text, tag, ""))
	if text == "" {
		return
	}

	result, err := w.client.ChatMention(w.ctx, botclient.ChatRequest{
		Platform:       platform.WhatsApp,
		PlatformUserID: evt.Info.Sender.User,
		ChannelID:      evt.Info.Chat.String(),
		GuildID:        evt.Info.Chat.String(),
		Message:        text,
	})
	if err != nil {
		w.replyError(evt.Info.Chat, err)
		return
	}
	w.send(evt.Info.Chat, result.Response)
}

func (w *WhatsApp) sendLinkPrompt(evt *events.Message) {
	prompt, err := w.client.CreateLinkToken(w.ctx, platform.WhatsApp,
		evt.Info.Sender.User, "", evt.Info.PushName)
	if err != nil {
		w.replyError(evt.Info.Chat, err)
		return
	}
	w.send(evt.Info.Chat, channels.LinkPromptText+"\n"+prompt.AuthURL)
}

func (w *WhatsApp) replyError(chat types.JID, err error) {
	w.errorCount.Add(1)
	w.logger.Error("whatsapp: request failed", "error", err)
	w.send(chat, "Something went wrong, please try again.")
}

func (w *WhatsApp) send(chat types.JID, text string) {
	if text == "" {
		return
	}
	msg := &waE2E.Message{Conversation: proto.String(text)}
	if _, err := w.wa.SendMessage(w.ctx, chat, msg); err != nil {
		w.errorCount.Add(1)
		w.logger.Error("whatsapp: send failed", "error", err)
	}
}
