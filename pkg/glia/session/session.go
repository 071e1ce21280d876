// Package session maps platform chat contexts to conversations. One
// session per (platform, user, channel) context; direct messages share
// a single "dm" slot per user so a DM thread survives across app
// restarts on the user's side.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/glia-ai/glia/pkg/glia/platform"
	"github.com/glia-ai/glia/pkg/glia/store"
)

// dmSlot is the channel component of direct-message session keys.
const dmSlot = "dm"

// Key builds the session key for a platform context. An empty
// channelID means a direct message.
func Key(p platform.Platform, platformUserID, channelID string) string {
	if channelID == "" {
		channelID = dmSlot
	}
	return fmt.Sprintf("%s:%s:%s", p, platformUserID, channelID)
}

// Store is the persistence the manager needs.
type Store interface {
	store.SessionStore
	store.ConversationStore
}

// Manager resolves and resets bot sessions.
type Manager struct {
	store  Store
	logger *slog.Logger
}

// NewManager creates a session manager.
func NewManager(s Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: s, logger: logger.With("component", "session")}
}

// ResolveOrCreate returns the session for the given context, creating
// it (and its conversation) when absent. A stored session is reused
// only if its conversation still exists and belongs to accountID;
// otherwise it is replaced. Concurrent calls for the same key may both
// create a conversation; the upsert lets the last writer win, which is
// acceptable for chat sessions.
func (m *Manager) ResolveOrCreate(ctx context.Context, accountID string, p platform.Platform, platformUserID, channelID string) (*store.BotSession, error) {
	key := Key(p, platformUserID, channelID)

	existing, err := m.store.GetSession(ctx, key)
	switch {
	case err == nil:
		if m.valid(ctx, existing, accountID) {
			return existing, nil
		}
		m.logger.Info("replacing stale session", "session_key", key)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("load session: %w", err)
	}

	return m.create(ctx, key, accountID, p, platformUserID, channelID)
}

// Reset discards the session for the given context and starts a fresh
// one.
func (m *Manager) Reset(ctx context.Context, accountID string, p platform.Platform, platformUserID, channelID string) (*store.BotSession, error) {
	key := Key(p, platformUserID, channelID)
	if err := m.store.DeleteSession(ctx, key); err != nil {
		return nil, fmt.Errorf("delete session: %w", err)
	}
	return m.create(ctx, key, accountID, p, platformUserID, channelID)
}

// CreateAnonymous starts a throwaway conversation for an unlinked
// platform user. Nothing is stored in the session table, so every
// anonymous request gets a clean slate.
func (m *Manager) CreateAnonymous(ctx context.Context, p platform.Platform, platformUserID string) (*store.BotSession, error) {
	accountID := fmt.Sprintf("anon:%s:%s", p, platformUserID)
	conv := &store.Conversation{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Title:     fmt.Sprintf("Mention via %s", p),
	}
	if err := m.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &store.BotSession{
		SessionKey:     Key(p, platformUserID, ""),
		AccountID:      accountID,
		Platform:       p,
		PlatformUserID: platformUserID,
		ConversationID: conv.ID,
		CreatedAt:      time.Now(),
	}, nil
}

// valid reports whether a stored session may serve accountID: same
// owner, and the conversation it points at still exists under that
// owner.
func (m *Manager) valid(ctx context.Context, s *store.BotSession, accountID string) bool {
	if s.AccountID != accountID {
		return false
	}
	conv, err := m.store.GetConversation(ctx, s.ConversationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("conversation check failed", "error", err)
		}
		return false
	}
	return conv.AccountID == accountID
}

func (m *Manager) create(ctx context.Context, key, accountID string, p platform.Platform, platformUserID, channelID string) (*store.BotSession, error) {
	conv := &store.Conversation{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Title:     fmt.Sprintf("Chat via %s", p),
	}
	if err := m.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	s := &store.BotSession{
		SessionKey:     key,
		AccountID:      accountID,
		Platform:       p,
		PlatformUserID: platformUserID,
		ChannelID:      channelID,
		ConversationID: conv.ID,
	}
	if err := m.store.UpsertSession(ctx, s); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return s, nil
}
