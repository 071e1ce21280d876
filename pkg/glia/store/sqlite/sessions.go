package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/glia-ai/glia/pkg/glia/platform"
	"github.com/glia-ai/glia/pkg/glia/store"
)

// GetSession loads a bot session by its session key.
func (s *Store) GetSession(ctx context.Context, sessionKey string) (*store.BotSession, error) {
	var bs store.BotSession
	var plat, created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_key, account_id, platform, platform_user_id, channel_id, conversation_id, created_at, updated_at
		 FROM bot_sessions WHERE session_key = ?`, sessionKey).
		Scan(&bs.SessionKey, &bs.AccountID, &plat, &bs.PlatformUserID, &bs.ChannelID, &bs.ConversationID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	bs.Platform = platform.Platform(plat)
	bs.CreatedAt = parseTime(created)
	bs.UpdatedAt = parseTime(updated)
	return &bs, nil
}

// UpsertSession writes a bot session. An existing row keeps its
// created_at; everything else takes the new values (last writer wins).
func (s *Store) UpsertSession(ctx context.Context, bs *store.BotSession) error {
	now := time.Now()
	if bs.CreatedAt.IsZero() {
		bs.CreatedAt = now
	}
	bs.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_sessions (session_key, account_id, platform, platform_user_id, channel_id, conversation_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_key) DO UPDATE SET
		     account_id       = excluded.account_id,
		     platform         = excluded.platform,
		     platform_user_id = excluded.platform_user_id,
		     channel_id       = excluded.channel_id,
		     conversation_id  = excluded.conversation_id,
		     updated_at       = excluded.updated_at`,
		bs.SessionKey, bs.AccountID, bs.Platform.String(), bs.PlatformUserID,
		bs.ChannelID, bs.ConversationID, formatTime(bs.CreatedAt), formatTime(bs.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// DeleteSession removes a bot session. Missing keys are not an error.
func (s *Store) DeleteSession(ctx context.Context, sessionKey string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM bot_sessions WHERE session_key = ?`, sessionKey)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
