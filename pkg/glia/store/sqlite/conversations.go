package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/glia-ai/glia/pkg/glia/store"
)

// CreateConversation inserts a new conversation.
func (s *Store) CreateConversation(ctx context.Context, c *store.Conversation) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, account_id, title, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.AccountID, c.Title, formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// GetConversation loads a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	var c store.Conversation
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, title, created_at, updated_at
		 FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.AccountID, &c.Title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select conversation: %w", err)
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

// AppendMessages appends messages to a conversation in order and bumps
// its updated_at. All messages land in one transaction.
func (s *Store) AppendMessages(ctx context.Context, conversationID string, msgs ...*store.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for _, m := range msgs {
		if m.Date.IsZero() {
			m.Date = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, type, response, date) VALUES (?, ?, ?, ?)`,
			conversationID, m.Type, m.Response, formatTime(m.Date)); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		formatTime(now), conversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	return tx.Commit()
}

// Messages returns the most recent messages of a conversation in
// chronological order. limit <= 0 returns everything.
func (s *Store) Messages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	q := `SELECT type, response, date FROM messages
	      WHERE conversation_id = ? ORDER BY id DESC`
	args := []any{conversationID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	var msgs []*store.Message
	for rows.Next() {
		var m store.Message
		var date string
		if err := rows.Scan(&m.Type, &m.Response, &date); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Date = parseTime(date)
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first for the LIMIT; flip back to chronological.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
